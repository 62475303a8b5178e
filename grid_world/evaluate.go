package grid_world

import (
	"errors"
	"fmt"
)

// ErrIncompleteTable reports that policy evaluation reached a cell the supplied
// table has no entry for. By invariant a learned table is total over the grid,
// so this signals a caller error rather than a learning outcome.
var ErrIncompleteTable = errors.New("table has no entry for a visited cell")

// ActionValuer is any tabular policy that can name its greedy actions per cell.
type ActionValuer interface {
	// GreedyActions appends every action attaining the table's maximum at c to dst
	// and returns it. ok is false when c is absent from the table.
	GreedyActions(c Cell, dst []Action) (greedy []Action, ok bool)
}

// MapTable is a sparse action-value table, convenient for hand-built policies.
type MapTable map[Cell]map[Action]float64

// GreedyActions implements ActionValuer. Ties are collected in action order.
func (table MapTable) GreedyActions(c Cell, dst []Action) ([]Action, bool) {
	row, ok := table[c]
	if !ok {
		return dst, false
	}
	first := true
	best := 0.0
	for _, a := range Actions {
		if val, has := row[a]; has && (first || val > best) {
			best, first = val, false
		}
	}
	for _, a := range Actions {
		if val, has := row[a]; has && val == best {
			dst = append(dst, a)
		}
	}
	return dst, true
}

// EvaluatePolicy scores a table with the world's configured evaluation budget.
func (world *GridWorld) EvaluatePolicy(table ActionValuer) (float64, error) {
	return world.EvaluatePolicyN(table, world.cfg.EvalEpisodes, world.cfg.EvalSteps)
}

// EvaluatePolicyN is a Monte-Carlo rollout of the table's greedy policy. Each of
// the episodes starts at a uniformly random cell and takes steps greedy moves, ties
// broken uniformly at random. Every on-grid transition earns PathReward from the
// static field (never the live points). A move that would leave the grid is
// skipped but still consumes its step. The raw sum over all episodes is returned,
// un-normalized.
//
// An episode reaching a cell absent from the table is truncated; the partial sum
// is still returned, along with an error wrapping ErrIncompleteTable.
func (world *GridWorld) EvaluatePolicyN(table ActionValuer, episodes, steps int) (total float64, err error) {
	truncated := 0
	greedy := make([]Action, 0, NUM_ACTIONS)

	for ep := 0; ep < episodes; ep++ {
		cur := Cell{X: world.evalRng.IntN(world.width), Y: world.evalRng.IntN(world.height)}
		episodeValue := 0.0

		for step := 0; step < steps; step++ {
			var ok bool
			greedy, ok = table.GreedyActions(cur, greedy[:0])
			if !ok || len(greedy) == 0 {
				truncated++
				break
			}

			action := greedy[0]
			if len(greedy) > 1 {
				action = greedy[world.evalRng.IntN(len(greedy))]
			}
			next := action.Apply(cur)
			if !world.InBounds(next) {
				continue
			}
			episodeValue += world.PathReward(cur, next)
			cur = next
		}
		total += episodeValue
	}

	if truncated > 0 {
		err = fmt.Errorf("%w: %d of %d episodes truncated", ErrIncompleteTable, truncated, episodes)
	}
	return
}
