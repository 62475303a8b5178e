package grid_world

// ReferenceTable is the static, learning-independent estimate of the expected
// reward of each admissible action, derived purely from the probability field.
// Its per-cell argmax sets are the ground truth against which an in-flight
// action is judged sub-optimal.
type ReferenceTable struct {
	world  *GridWorld
	values [][NUM_ACTIONS]float64
	// optimal[idx] holds every action attaining the row maximum; ties are kept.
	optimal [][]Action
}

func buildReferenceTable(world *GridWorld) (ref *ReferenceTable) {
	ref = &ReferenceTable{
		world:   world,
		values:  make([][NUM_ACTIONS]float64, world.NumCells()),
		optimal: make([][]Action, world.NumCells()),
	}

	world.VisitCells(func(c Cell) {
		idx := world.index(c)
		actions := world.admissible[idx]
		if len(actions) == 0 {
			return
		}
		best := 0.0
		for i, a := range actions {
			val := world.PathReward(c, a.Apply(c))
			ref.values[idx][a] = val
			if i == 0 || val > best {
				best = val
			}
		}
		for _, a := range actions {
			if ref.values[idx][a] == best {
				ref.optimal[idx] = append(ref.optimal[idx], a)
			}
		}
	})
	return
}

// PathReward is the expected reward of moving from one cell to an adjacent one:
// the destination's probability for a straight move, plus half of each flanking
// cell's probability for a diagonal move.
func (world *GridWorld) PathReward(from, to Cell) float64 {
	dest := world.Probability(to.X, to.Y)
	if from.X == to.X || from.Y == to.Y {
		return dest
	}
	side1 := world.Probability(from.X, to.Y)
	side2 := world.Probability(to.X, from.Y)
	return dest + 0.5*side1 + 0.5*side2
}

// Reference returns the static reference table.
func (world *GridWorld) Reference() *ReferenceTable {
	return world.reference
}

// Value returns the reference value of an admissible action, false otherwise.
func (ref *ReferenceTable) Value(c Cell, a Action) (float64, bool) {
	if !ref.world.InBounds(c) || !a.Valid() || !ref.admits(c, a) {
		return 0, false
	}
	return ref.values[ref.world.index(c)][a], true
}

// OptimalActions returns the argmax set at c, in action order.
func (ref *ReferenceTable) OptimalActions(c Cell) []Action {
	if !ref.world.InBounds(c) {
		return nil
	}
	return append([]Action(nil), ref.optimal[ref.world.index(c)]...)
}

// GreedyActions satisfies ActionValuer, so the reference policy itself can be scored.
func (ref *ReferenceTable) GreedyActions(c Cell, dst []Action) ([]Action, bool) {
	if !ref.world.InBounds(c) {
		return dst, false
	}
	return append(dst, ref.optimal[ref.world.index(c)]...), true
}

func (ref *ReferenceTable) admits(c Cell, a Action) bool {
	for _, adm := range ref.world.Admissible(c) {
		if adm == a {
			return true
		}
	}
	return false
}

// IsOptimalAction is true iff action belongs to the optimal set of cell. This is a
// property of the static field and never of any agent's learning progress.
func (world *GridWorld) IsOptimalAction(cell Cell, action Action) bool {
	if !world.InBounds(cell) {
		return false
	}
	for _, a := range world.reference.optimal[world.index(cell)] {
		if a == action {
			return true
		}
	}
	return false
}
