package grid_world

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// A 3x3 world with one patch centered on the corner shared by cells (0,0)..(1,1).
func cornerPatchWorld() *GridWorld {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 3, 3
	cfg.PatchMeans = [][]float64{{1, 1}}
	cfg.PatchVars = [][]float64{{0.75, 0.75}}
	cfg.SpawnRate = 0
	return mustWorld(cfg, 1)
}

// Greedy table that walks every cell straight towards target; at target it takes
// the first admissible action.
func towardsTable(world *GridWorld, target Cell) MapTable {
	table := MapTable{}
	world.VisitCells(func(c Cell) {
		action, ok := ActionTowards(c, target)
		if !ok {
			action = world.Admissible(c)[0]
		}
		table[c] = map[Action]float64{action: 1}
	})
	return table
}

func TestReferenceTable(t *testing.T) {
	Convey("Given a 3x3 world with a patch at (1,1)", t, func() {
		world := cornerPatchWorld()
		ref := world.Reference()

		Convey("The four upper-left cells carry equal mass", func() {
			p := world.Probability(0, 0)
			So(world.Probability(1, 0), ShouldAlmostEqual, p, 1e-12)
			So(world.Probability(0, 1), ShouldAlmostEqual, p, 1e-12)
			So(world.Probability(1, 1), ShouldAlmostEqual, p, 1e-12)
		})

		Convey("From (0,0) the diagonal is the only optimal action", func() {
			So(ref.OptimalActions(Cell{0, 0}), ShouldResemble, []Action{DOWNRIGHT})
			So(world.IsOptimalAction(Cell{0, 0}, DOWNRIGHT), ShouldBeTrue)
			So(world.IsOptimalAction(Cell{0, 0}, RIGHT), ShouldBeFalse)

			val, ok := ref.Value(Cell{0, 0}, DOWNRIGHT)
			So(ok, ShouldBeTrue)
			expected := world.Probability(1, 1) + 0.5*world.Probability(0, 1) + 0.5*world.Probability(1, 0)
			So(val, ShouldAlmostEqual, expected, 1e-12)
		})

		Convey("From (1,1) straight moves are worth the destination's probability", func() {
			for _, a := range []Action{UP, DOWN, LEFT, RIGHT} {
				dest := a.Apply(Cell{1, 1})
				val, ok := ref.Value(Cell{1, 1}, a)
				So(ok, ShouldBeTrue)
				So(val, ShouldEqual, world.Probability(dest.X, dest.Y))
			}
		})

		Convey("Every optimal action attains the row maximum", func() {
			world.VisitCells(func(c Cell) {
				best := 0.0
				for _, a := range world.Admissible(c) {
					val, _ := ref.Value(c, a)
					if val > best {
						best = val
					}
				}
				optimal := ref.OptimalActions(c)
				So(optimal, ShouldNotBeEmpty)
				for _, a := range optimal {
					val, _ := ref.Value(c, a)
					So(val, ShouldEqual, best)
				}
			})
		})

		Convey("Inadmissible and off-grid lookups fail", func() {
			_, ok := ref.Value(Cell{0, 0}, UP)
			So(ok, ShouldBeFalse)
			So(world.IsOptimalAction(Cell{-1, 0}, RIGHT), ShouldBeFalse)
			So(ref.OptimalActions(Cell{3, 3}), ShouldBeNil)
		})
	})
}

func TestSpawning(t *testing.T) {
	Convey("Given a world with no spawn rate", t, func() {
		world := cornerPatchWorld()
		for i := 0; i < 100; i++ {
			world.Update(0.1)
		}
		So(world.PointCount(), ShouldEqual, 0)
	})

	Convey("Given a scattered world with a high spawn rate", t, func() {
		cfg := subsetConfig(SCATTERED, 6, 6, 4)
		cfg.SpawnRate = 50
		world := mustWorld(cfg, 7)
		for i := 0; i < 10; i++ {
			world.Update(0.1)
		}

		Convey("Points only appear inside selected cells", func() {
			selected := map[Cell]bool{}
			for _, c := range world.SelectedGrids() {
				selected[c] = true
			}
			So(world.PointCount(), ShouldBeGreaterThan, 0)
			So(len(world.Points()), ShouldEqual, world.PointCount())
			for _, p := range world.Points() {
				So(selected[p.Cell()], ShouldBeTrue)
			}
		})

		Convey("A collision clears the whole cell", func() {
			total := world.PointCount()
			c := world.SelectedGrids()[0]
			inCell := world.PointsAt(c)
			removed := world.CheckCollision(float64(c.X)+0.5, float64(c.Y)+0.5)
			So(removed, ShouldEqual, inCell)
			So(world.PointsAt(c), ShouldEqual, 0)
			So(world.PointCount(), ShouldEqual, total-inCell)
			So(world.CheckCollision(float64(c.X)+0.5, float64(c.Y)+0.5), ShouldEqual, 0)
		})
	})

	Convey("Given a mixture world with a high spawn rate", t, func() {
		cfg := DefaultConfig()
		cfg.Width, cfg.Height = 5, 4
		cfg.SpawnRate = 100
		world := mustWorld(cfg, 11)
		world.Update(1)

		Convey("Every point is clamped to the grid", func() {
			for _, p := range world.Points() {
				So(p.X, ShouldBeBetweenOrEqual, 0.0, 4.0)
				So(p.Y, ShouldBeBetweenOrEqual, 0.0, 3.0)
				So(world.InBounds(p.Cell()), ShouldBeTrue)
			}
		})
	})

	Convey("Collision is decided by the cell containing the position", t, func() {
		world := cornerPatchWorld()
		world.addPoint(Point{X: 2.5, Y: 1.5})
		world.addPoint(Point{X: 2.0, Y: 1.99})

		So(world.CheckCollision(1.99, 1.5), ShouldEqual, 0)
		So(world.CheckCollision(2.5, 2.0), ShouldEqual, 0)
		So(world.CheckCollision(2.01, 1.0), ShouldEqual, 2)
		So(world.PointCount(), ShouldEqual, 0)
	})
}

func TestEvaluatePolicy(t *testing.T) {
	Convey("Given a world with a single selected cell", t, func() {
		cfg := subsetConfig(SCATTERED, 6, 6, 1)
		target := mustWorld(cfg, 5).SelectedGrids()[0]

		Convey("Zero steps are worth nothing", func() {
			world := mustWorld(cfg, 5)
			val, err := world.EvaluatePolicyN(towardsTable(world, target), 20, 0)
			So(err, ShouldBeNil)
			So(val, ShouldEqual, 0.0)
		})

		Convey("The value never decreases as the horizon grows", func() {
			prev := 0.0
			for steps := 1; steps <= 12; steps++ {
				// Fresh worlds replay identical start cells.
				world := mustWorld(cfg, 5)
				val, err := world.EvaluatePolicyN(towardsTable(world, target), 50, steps)
				So(err, ShouldBeNil)
				So(val, ShouldBeGreaterThanOrEqualTo, prev)
				prev = val
			}
			So(prev, ShouldBeGreaterThan, 0.0)
		})
	})

	Convey("Given the reference policy", t, func() {
		world := mustWorld(DefaultConfig(), 3)
		val, err := world.EvaluatePolicy(world.Reference())
		So(err, ShouldBeNil)
		So(val, ShouldBeGreaterThan, 0.0)
	})

	Convey("Given an incomplete table", t, func() {
		world := cornerPatchWorld()
		table := towardsTable(world, Cell{1, 1})
		delete(table, Cell{1, 1})

		val, err := world.EvaluatePolicyN(table, 30, 10)
		So(errors.Is(err, ErrIncompleteTable), ShouldBeTrue)
		So(val, ShouldBeGreaterThanOrEqualTo, 0.0)
	})

	Convey("Given a table with an empty row", t, func() {
		world := cornerPatchWorld()
		table := towardsTable(world, Cell{1, 1})
		table[Cell{1, 1}] = map[Action]float64{}

		_, err := world.EvaluatePolicyN(table, 30, 10)
		So(errors.Is(err, ErrIncompleteTable), ShouldBeTrue)
	})

	Convey("Given moves that would leave the grid", t, func() {
		world := cornerPatchWorld()
		table := MapTable{}
		world.VisitCells(func(c Cell) {
			table[c] = map[Action]float64{UP: 1}
		})

		Convey("They are skipped without truncating the episode", func() {
			_, err := world.EvaluatePolicyN(table, 10, 5)
			So(err, ShouldBeNil)
		})
	})
}

func TestMapTable(t *testing.T) {
	Convey("Ties are collected in action order", t, func() {
		table := MapTable{{0, 0}: {RIGHT: 2, DOWN: 2, DOWNRIGHT: 1}}
		greedy, ok := table.GreedyActions(Cell{0, 0}, nil)
		So(ok, ShouldBeTrue)
		So(greedy, ShouldResemble, []Action{DOWN, RIGHT})

		_, ok = table.GreedyActions(Cell{1, 0}, nil)
		So(ok, ShouldBeFalse)
	})
}
