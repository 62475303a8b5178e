package cell_views

import (
	"fmt"
	"html/template"
	"math"

	"forager/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ValueFunction provides a view of the first agent's value function as a 2d
// isometric projection of the 3d function (x,y,maxQ).
type ValueFunction struct {
	id      string
	updates <-chan []fastview.EleUpdate
	proj    projection
}

// projection holds the canvas parameters, fixed by the grid dimensions.
type projection struct {
	width, height float64 // canvas size in pixels
	cellDim       float64 // cell height/width size in pixels
	xyscale       float64 // pixels per x or y unit
	zscale        float64 // pixels per z unit
	sinAng        float64
	cosAng        float64
}

func newProjection(xCells, yCells int) projection {
	cellDim := 60.0
	// angle of the x, y axes
	ang := math.Pi / 6
	return projection{
		width:   float64(xCells) * cellDim,
		height:  float64(yCells) * cellDim,
		cellDim: cellDim,
		xyscale: cellDim,
		zscale:  cellDim * 0.3,
		sinAng:  math.Sin(ang),
		cosAng:  math.Cos(ang),
	}
}

// NewValueFunction builds the view for grids of xCells by yCells.
func NewValueFunction(
	done <-chan struct{},
	grids <-chan Grid,
	xCells, yCells int,
) (vf *ValueFunction) {
	vf = &ValueFunction{
		id:   "valuefunction",
		proj: newProjection(xCells, yCells),
	}
	vf.updates = channerics.Convert(done, grids, vf.onUpdate)
	return
}

func (vf *ValueFunction) Updates() <-chan []fastview.EleUpdate {
	return vf.updates
}

// Project applies an isometric projection to the passed point.
func (proj *projection) project(x, y, z float64) (float64, float64) {
	sx := (x - y) * proj.cosAng * proj.xyscale
	sy := (x+y)*proj.sinAng*proj.xyscale - z*proj.zscale
	return sx, sy
}

// Cell-A is bottom left, Cell-B is top left, Cell-C is top right, and Cell-D is bottom right.
func (proj *projection) polygon(
	id string,
	cellA Cell,
	cellB Cell,
	cellC Cell,
	cellD Cell,
) (fp *funcPolygon) {
	fp = &funcPolygon{
		Id: id,
	}
	fp.ax, fp.ay = proj.project(float64(cellA.X), float64(cellA.Y), cellA.Max)
	fp.bx, fp.by = proj.project(float64(cellB.X), float64(cellB.Y), cellB.Max)
	fp.cx, fp.cy = proj.project(float64(cellC.X), float64(cellC.Y), cellC.Max)
	fp.dx, fp.dy = proj.project(float64(cellD.X), float64(cellD.Y), cellD.Max)
	return
}

type funcPolygon struct {
	Id     string
	ax, ay float64
	bx, by float64
	cx, cy float64
	dx, dy float64
}

// String returns a string suitable for the svg-polygon 'points' attribute.
// The values are truncated to ints.
func (fp *funcPolygon) String() string {
	return fmt.Sprintf("%d,%d %d,%d %d,%d %d,%d",
		int(fp.ax), int(fp.ay),
		int(fp.bx), int(fp.by),
		int(fp.cx), int(fp.cy),
		int(fp.dx), int(fp.dy),
	)
}

func (fp *funcPolygon) bounds() (minX, minY, maxX, maxY float64) {
	minX = math.Min(math.Min(fp.ax, fp.bx), math.Min(fp.cx, fp.dx))
	minY = math.Min(math.Min(fp.ay, fp.by), math.Min(fp.cy, fp.dy))
	maxX = math.Max(math.Max(fp.ax, fp.bx), math.Max(fp.cx, fp.dx))
	maxY = math.Max(math.Max(fp.ay, fp.by), math.Max(fp.cy, fp.dy))
	return
}

func polygonId(cell Cell) string {
	return fmt.Sprintf("%d-%d-value-polygon", cell.X, cell.Y)
}

// Returns the set of view updates needed for the view to reflect current values.
func (vf *ValueFunction) onUpdate(grid Grid) (ops []fastview.EleUpdate) {
	cells := grid.Cells
	if len(cells) < 2 || len(cells[0]) < 2 {
		return nil
	}

	// The min and max function values set the extremes of the pseudo-gradient; each
	// polygon is shaded with the average of its four max-values.
	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for _, column := range cells {
		for _, cell := range column {
			minVal = math.Min(minVal, cell.Max)
			maxVal = math.Max(maxVal, cell.Max)
		}
	}

	// Build up the polygons first, so their svg coordinates can be centered in the view.
	xmin, ymin := math.MaxFloat64, math.MaxFloat64
	xmax, ymax := -math.MaxFloat64, -math.MaxFloat64
	for ri, column := range cells[:len(cells)-1] {
		for ci, cell := range column[:len(column)-1] {
			cellA := cells[ri][ci+1]
			cellB := cells[ri][ci]
			cellC := cells[ri+1][ci]
			cellD := cells[ri+1][ci+1]
			polygon := vf.proj.polygon(polygonId(cell), cellA, cellB, cellC, cellD)

			pminX, pminY, pmaxX, pmaxY := polygon.bounds()
			xmin, ymin = math.Min(xmin, pminX), math.Min(ymin, pminY)
			xmax, ymax = math.Max(xmax, pmaxX), math.Max(ymax, pmaxY)

			avgVal := (cellA.Max + cellB.Max + cellC.Max + cellD.Max) / 4
			ops = append(ops, fastview.EleUpdate{
				EleId: polygon.Id,
				Ops: []fastview.Op{
					{Key: "points", Value: polygon.String()},
					{Key: "fill", Value: getRGBFill(avgVal, minVal, maxVal)},
				},
			})
		}
	}

	// Scale down by the maximum required to fit the full plot in view, but only if needed.
	scaler := math.Min(
		math.Min(
			math.Abs(vf.proj.width/(xmax-xmin)),
			math.Abs(vf.proj.height/(ymax-ymin)),
		),
		1.0,
	)

	ops = append(ops, fastview.EleUpdate{
		EleId: vf.id + "-group",
		Ops: []fastview.Op{
			{
				Key:   "transform",
				Value: fmt.Sprintf("scale(%f) translate(%d %d)", scaler, int(-xmin), int(-ymin)),
			},
		},
	})
	return
}

// Returns an RGB value defined by where avgVal lies along the number line between
// minVal and maxVal: blue at the minimum, red at the maximum.
func getRGBFill(avgVal, minVal, maxVal float64) string {
	redPct := 50
	if span := maxVal - minVal; span > 0 {
		redPct = int(math.Round(100 * (avgVal - minVal) / span))
	}
	return fmt.Sprintf("rgb(%d%%,0%%,%d%%)", redPct, 100-redPct)
}

// Parse defines an svg of polygons plotting the value function surface as a 2D projection.
// The polygons start empty; the first update positions and shades them.
func (vf *ValueFunction) Parse(
	t *template.Template,
) (name string, err error) {
	name = vf.id
	// The order of polygon creation forms the visual surface by obscuring prior polygons.
	_, err = t.Funcs(template.FuncMap{
		"polygonId": polygonId,
	}).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:40px;">
			{{ $cells := .Cells }}
			{{ $num_x_polys := sub (len $cells) 1 }}
			<svg id="` + vf.id + `" xmlns='http://www.w3.org/2000/svg'
				width="` + fmt.Sprintf("%d", int(vf.proj.width*2)) + `px"
				height="` + fmt.Sprintf("%d", int(vf.proj.height*2)) + `px"
				style="shape-rendering: crispEdges; stroke: lightgrey; stroke-opacity: 1.0; stroke-width: 2;">
				<g id="` + vf.id + "-group" + `" transform="translate(0 0)">
				{{ range $ri, $column := $cells }}
					{{ if lt $ri $num_x_polys }}
						{{ $num_y_polys := sub (len $column) 1 }}
						{{ range $ci, $cell := $column }}
							{{ if lt $ci $num_y_polys }}
								<polygon id="{{ polygonId $cell }}" fill="black" fill-opacity="1.0" points=""/>
							{{ end }}
						{{ end }}
					{{ end }}
				{{ end }}
				</g>
			</svg>
		</div>
		{{ end }}`)
	return
}
