package cell_views

import (
	"fmt"
	"html/template"

	"forager/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ValuesGrid draws the world as a grid of cells shaded by spawn probability, each
// showing the first agent's max Q value, its greedy action and the points lying
// there, with a marker per agent.
type ValuesGrid struct {
	id      string
	cellDim int
	updates <-chan []fastview.EleUpdate
}

func NewValuesGrid(
	done <-chan struct{},
	grids <-chan Grid,
) (vg *ValuesGrid) {
	vg = &ValuesGrid{
		id:      "valuesgrid",
		cellDim: 80,
	}
	vg.updates = channerics.Convert(done, grids, vg.onUpdate)
	return
}

func (vg *ValuesGrid) Updates() <-chan []fastview.EleUpdate {
	return vg.updates
}

// Converts a continuous grid coordinate to the pixel at the center of its cell.
func (vg *ValuesGrid) centerPx(f float64) int {
	return int((f + 0.5) * float64(vg.cellDim))
}

// Returns the set of view updates needed for the view to reflect the current values.
func (vg *ValuesGrid) onUpdate(grid Grid) (ops []fastview.EleUpdate) {
	for _, column := range grid.Cells {
		for _, cell := range column {
			ops = append(ops,
				fastview.EleUpdate{
					EleId: fmt.Sprintf("%d-%d-cell-rect", cell.X, cell.Y),
					Ops:   []fastview.Op{{Key: "fill", Value: cell.Fill}},
				},
				fastview.EleUpdate{
					EleId: fmt.Sprintf("%d-%d-value-text", cell.X, cell.Y),
					Ops:   []fastview.Op{{Key: "textContent", Value: fmt.Sprintf("%.2f", cell.Max)}},
				},
				fastview.EleUpdate{
					EleId: fmt.Sprintf("%d-%d-points-text", cell.X, cell.Y),
					Ops:   []fastview.Op{{Key: "textContent", Value: pointsLabel(cell.Points)}},
				},
				fastview.EleUpdate{
					EleId: fmt.Sprintf("%d-%d-policy-arrow", cell.X, cell.Y),
					Ops:   []fastview.Op{{Key: "transform", Value: fmt.Sprintf("rotate(%d)", cell.PolicyArrowRotation)}},
				})
		}
	}

	for _, agent := range grid.Agents {
		stroke := "none"
		if agent.Locked {
			stroke = "black"
		}
		ops = append(ops, fastview.EleUpdate{
			EleId: fmt.Sprintf("agent-%d", agent.ID),
			Ops: []fastview.Op{
				{Key: "cx", Value: fmt.Sprintf("%d", vg.centerPx(agent.X))},
				{Key: "cy", Value: fmt.Sprintf("%d", vg.centerPx(agent.Y))},
				{Key: "stroke", Value: stroke},
			},
		})
	}

	ops = append(ops, fastview.EleUpdate{
		EleId: vg.id + "-clock",
		Ops:   []fastview.Op{{Key: "textContent", Value: clockLabel(grid)}},
	})
	return
}

func pointsLabel(points int) string {
	if points == 0 {
		return ""
	}
	return fmt.Sprintf("•%d", points)
}

func clockLabel(grid Grid) string {
	return fmt.Sprintf("t=%.1fs tick %d", grid.SimTime, grid.Tick)
}

// Parse defines the svg grid in t. The template is executed with a Grid.
func (vg *ValuesGrid) Parse(t *template.Template) (name string, err error) {
	name = vg.id
	_, err = t.Funcs(template.FuncMap{
		"centerPx":    vg.centerPx,
		"pointsLabel": pointsLabel,
		"clockLabel":  clockLabel,
	}).Parse(`{{ define "` + name + `" }}
		<div id="state_values">
			{{ $x_cells := len .Cells }}
			{{ $y_cells := len (index .Cells 0) }}
			{{ $cell_width := ` + fmt.Sprintf("%d", vg.cellDim) + ` }}
			{{ $cell_height := $cell_width }}
			{{ $width := mult $cell_width $x_cells }}
			{{ $height := mult $cell_height $y_cells }}
			{{ $half_height := div $cell_height 2 }}
			{{ $half_width := div $cell_width 2 }}
			<p id="` + vg.id + `-clock">{{ clockLabel . }}</p>
			<svg id="` + vg.id + `"
				width="{{ add $width 1 }}px"
				height="{{ add $height 1 }}px"
				style="shape-rendering: crispEdges;">
				{{ range $column := .Cells }}
					{{ range $cell := $column }}
					<g>
						<rect id="{{$cell.X}}-{{$cell.Y}}-cell-rect"
							x="{{ mult $cell.X $cell_width }}"
							y="{{ mult $cell.Y $cell_height }}"
							width="{{ $cell_width }}"
							height="{{ $cell_height }}"
							fill="{{ $cell.Fill }}"
							stroke="black"
							stroke-width="1"/>
						<text id="{{$cell.X}}-{{$cell.Y}}-value-text"
							x="{{ add (mult $cell.X $cell_width) $half_width }}"
							y="{{ add (mult $cell.Y $cell_height) (sub $half_height 20) }}"
							stroke="blue"
							dominant-baseline="text-top" text-anchor="middle"
							>{{ printf "%.2f" $cell.Max }}</text>
						<text id="{{$cell.X}}-{{$cell.Y}}-points-text"
							x="{{ add (mult $cell.X $cell_width) 4 }}"
							y="{{ add (mult $cell.Y $cell_height) (sub $cell_height 6) }}"
							fill="saddlebrown" font-size="12"
							>{{ pointsLabel $cell.Points }}</text>
						<g transform="translate({{ add (mult $cell.X $cell_width) $half_width }}, {{ add (mult $cell.Y $cell_height) (add $half_height 15) }})">
							<text id="{{$cell.X}}-{{$cell.Y}}-policy-arrow"
							stroke="blue" stroke-width="1"
							dominant-baseline="central" text-anchor="middle"
							transform="rotate({{ $cell.PolicyArrowRotation }})"
							>&uarr;</text>
						</g>
					</g>
					{{ end }}
				{{ end }}
				{{ range $agent := .Agents }}
					<circle id="agent-{{ $agent.ID }}"
						cx="{{ centerPx $agent.X }}" cy="{{ centerPx $agent.Y }}" r="12"
						fill="{{ $agent.Fill }}" fill-opacity="0.8"
						stroke="none" stroke-width="3"/>
				{{ end }}
			</svg>
		</div>
		{{ end }}`)
	return
}
