package cell_views

import (
	"html/template"
	"strings"
	"testing"

	"forager/grid_world"
	"forager/reinforcement"
	"forager/server/fastview"
	"forager/simulation"

	. "github.com/smartystreets/goconvey/convey"
)

// A 3x2 snapshot whose values encode their own coordinates.
func testSnapshot() *simulation.Snapshot {
	snap := &simulation.Snapshot{
		Tick:    12,
		SimTime: 1.2,
		Width:   3,
		Height:  2,
		Agents: []reinforcement.Status{
			{ID: 1, X: 0.5, Y: 1, TotalReward: 2},
			{ID: 2, X: 2, Y: 0, LockRemaining: 0.3},
		},
	}
	for y := 0; y < snap.Height; y++ {
		for x := 0; x < snap.Width; x++ {
			snap.Probability = append(snap.Probability, float64(x)/10)
			snap.Points = append(snap.Points, y)
			snap.Greedy = append(snap.Greedy, grid_world.RIGHT)
			snap.MaxQ = append(snap.MaxQ, float64(10*x+y))
		}
	}
	snap.Greedy[0] = grid_world.NoAction
	return snap
}

func findUpdate(updates []fastview.EleUpdate, id string) (fastview.EleUpdate, bool) {
	for _, update := range updates {
		if update.EleId == id {
			return update, true
		}
	}
	return fastview.EleUpdate{}, false
}

func TestConvert(t *testing.T) {
	Convey("Convert tests", t, func() {
		grid := Convert(testSnapshot())

		Convey("Cells are indexed by x then y", func() {
			So(grid.Cells, ShouldHaveLength, 3)
			So(grid.Cells[0], ShouldHaveLength, 2)
			cell := grid.Cells[2][1]
			So(cell.X, ShouldEqual, 2)
			So(cell.Y, ShouldEqual, 1)
			So(cell.Max, ShouldEqual, 21)
			So(cell.Points, ShouldEqual, 1)
			So(cell.Probability, ShouldAlmostEqual, 0.2)
			So(cell.PolicyArrowRotation, ShouldEqual, 90)
			So(grid.Cells[0][0].PolicyArrowRotation, ShouldEqual, 0)
		})

		Convey("Fills are relative to the most probable cell", func() {
			So(grid.Cells[2][0].Fill, ShouldEqual, "rgb(50%,100%,0%)")
			So(grid.Cells[0][0].Fill, ShouldEqual, "rgb(100%,100%,100%)")
			So(getFill(0, 0), ShouldEqual, "white")
		})

		Convey("Agents and the clock are carried over", func() {
			So(grid.Tick, ShouldEqual, 12)
			So(grid.SimTime, ShouldEqual, 1.2)
			So(grid.Agents, ShouldHaveLength, 2)
			So(grid.Agents[0].Locked, ShouldBeFalse)
			So(grid.Agents[0].Reward, ShouldEqual, 2)
			So(grid.Agents[1].Locked, ShouldBeTrue)
			So(grid.Agents[0].Fill, ShouldNotEqual, grid.Agents[1].Fill)
		})
	})
}

func TestGetDegrees(t *testing.T) {
	Convey("Arrows rotate clockwise from up", t, func() {
		expected := map[grid_world.Action]int{
			grid_world.UP:        0,
			grid_world.UPRIGHT:   45,
			grid_world.RIGHT:     90,
			grid_world.DOWNRIGHT: 135,
			grid_world.DOWN:      180,
			grid_world.DOWNLEFT:  225,
			grid_world.LEFT:      270,
			grid_world.UPLEFT:    315,
			grid_world.NoAction:  0,
		}
		for action, degrees := range expected {
			So(getDegrees(action), ShouldEqual, degrees)
		}
	})
}

func TestValuesGrid(t *testing.T) {
	Convey("Values grid tests", t, func() {
		done := make(chan struct{})
		defer close(done)
		grids := make(chan Grid, 1)
		vg := NewValuesGrid(done, grids)
		grid := Convert(testSnapshot())

		Convey("Each grid becomes updates for cells, agents and the clock", func() {
			grids <- grid
			updates := <-vg.Updates()
			So(updates, ShouldHaveLength, 3*2*4+2+1)

			value, ok := findUpdate(updates, "1-0-value-text")
			So(ok, ShouldBeTrue)
			So(value.Ops, ShouldResemble, []fastview.Op{{Key: "textContent", Value: "10.00"}})

			points, ok := findUpdate(updates, "1-1-points-text")
			So(ok, ShouldBeTrue)
			So(points.Ops[0].Value, ShouldEqual, "•1")

			agent, ok := findUpdate(updates, "agent-2")
			So(ok, ShouldBeTrue)
			So(agent.Ops, ShouldResemble, []fastview.Op{
				{Key: "cx", Value: "200"},
				{Key: "cy", Value: "40"},
				{Key: "stroke", Value: "black"},
			})

			clock, ok := findUpdate(updates, "valuesgrid-clock")
			So(ok, ShouldBeTrue)
			So(clock.Ops[0].Value, ShouldEqual, "t=1.2s tick 12")
		})

		Convey("The template renders every element the updates address", func() {
			tmpl := template.New("page").Funcs(template.FuncMap{
				"add":  func(i, j int) int { return i + j },
				"sub":  func(i, j int) int { return i - j },
				"mult": func(i, j int) int { return i * j },
				"div":  func(i, j int) int { return i / j },
			})
			name, err := vg.Parse(tmpl)
			So(err, ShouldBeNil)

			var sb strings.Builder
			So(tmpl.ExecuteTemplate(&sb, name, grid), ShouldBeNil)
			page := sb.String()
			for _, id := range []string{"2-1-cell-rect", "0-0-policy-arrow", "agent-1", "valuesgrid-clock"} {
				So(page, ShouldContainSubstring, `id="`+id+`"`)
			}
		})
	})
}

func TestValueFunction(t *testing.T) {
	Convey("Value function tests", t, func() {
		done := make(chan struct{})
		defer close(done)
		grids := make(chan Grid, 1)
		vf := NewValueFunction(done, grids, 3, 2)
		grid := Convert(testSnapshot())

		Convey("One polygon per interior cell corner plus the group transform", func() {
			grids <- grid
			updates := <-vf.Updates()
			So(updates, ShouldHaveLength, 2*1+1)

			polygon, ok := findUpdate(updates, "0-0-value-polygon")
			So(ok, ShouldBeTrue)
			So(polygon.Ops[0].Key, ShouldEqual, "points")
			// The lowest quad is nearer the minimum than the maximum.
			So(polygon.Ops[1].Value, ShouldEqual, getRGBFill(5.5, 0, 21))

			_, ok = findUpdate(updates, "valuefunction-group")
			So(ok, ShouldBeTrue)
		})

		Convey("A single row or column has no surface", func() {
			So(vf.onUpdate(Grid{Cells: [][]Cell{{{}, {}}}}), ShouldBeNil)
		})

		Convey("Fills span blue to red", func() {
			So(getRGBFill(0, 0, 10), ShouldEqual, "rgb(0%,0%,100%)")
			So(getRGBFill(10, 0, 10), ShouldEqual, "rgb(100%,0%,0%)")
			So(getRGBFill(3, 3, 3), ShouldEqual, "rgb(50%,0%,50%)")
		})
	})
}
