package reinforcement

import (
	"fmt"
	"io"
	"math/rand/v2"

	"forager/grid_world"
)

/*
QTable is an agent's learned action-value table plus its cached greedy policy.
Both live in dense arenas indexed by the world's cell index; the arena of admissible
actions per cell belongs to the world, since it depends only on grid geometry and
never on learning. Rows are fully populated at construction, so every on-grid cell
has a value for each of its admissible actions before the first decision is made.

Values of inadmissible actions are never read: every max, argmax and lookup ranges
over the cell's admissible set only.
*/
type QTable struct {
	world  *grid_world.GridWorld
	values [][grid_world.NUM_ACTIONS]float64
	policy []grid_world.Action

	alpha, gamma, stepCost float64
	rng                    *rand.Rand
}

// NewQTable initializes every admissible action to INITIAL_Q_VALUE and each cell's
// policy to a uniformly random admissible action.
func NewQTable(world *grid_world.GridWorld, params Params, rng *rand.Rand) *QTable {
	table := &QTable{
		world:    world,
		values:   make([][grid_world.NUM_ACTIONS]float64, world.NumCells()),
		policy:   make([]grid_world.Action, world.NumCells()),
		alpha:    params.Alpha,
		gamma:    params.Gamma,
		stepCost: params.StepCost,
		rng:      rng,
	}
	world.VisitCells(func(c grid_world.Cell) {
		idx := world.Index(c)
		actions := world.Admissible(c)
		for _, a := range actions {
			table.values[idx][a] = INITIAL_Q_VALUE
		}
		table.policy[idx] = grid_world.NoAction
		if len(actions) > 0 {
			table.policy[idx] = actions[rng.IntN(len(actions))]
		}
	})
	return table
}

// Get returns the learned value of action a at c.
func (table *QTable) Get(c grid_world.Cell, a grid_world.Action) float64 {
	return table.values[table.world.Index(c)][a]
}

// MaxValue is the row maximum over admissible actions, or 0 if c has none.
func (table *QTable) MaxValue(c grid_world.Cell) (best float64) {
	row := &table.values[table.world.Index(c)]
	for i, a := range table.world.Admissible(c) {
		if i == 0 || row[a] > best {
			best = row[a]
		}
	}
	return
}

// Policy returns the cached greedy action of c.
func (table *QTable) Policy(c grid_world.Cell) grid_world.Action {
	return table.policy[table.world.Index(c)]
}

// GreedyActions implements grid_world.ActionValuer: every admissible action
// attaining the row maximum, in action order.
func (table *QTable) GreedyActions(c grid_world.Cell, dst []grid_world.Action) ([]grid_world.Action, bool) {
	if !table.world.InBounds(c) {
		return dst, false
	}
	best := table.MaxValue(c)
	row := &table.values[table.world.Index(c)]
	for _, a := range table.world.Admissible(c) {
		if row[a] == best {
			dst = append(dst, a)
		}
	}
	return dst, true
}

/*
Update is the one-step TD rule shared by normal completions and every intervention
handler:

	cost   = stepCost * multiplier(action)      (1 orthogonal, √2 diagonal)
	target = reward + cost + γ * max_a' Q(next, a')
	Q(cell, action) += α * (target - Q(cell, action))

after which the cell's cached policy is redrawn uniformly among its new argmax set.
The new value is returned.
*/
func (table *QTable) Update(
	cell grid_world.Cell,
	action grid_world.Action,
	reward float64,
	next grid_world.Cell,
) float64 {
	idx := table.world.Index(cell)
	cost := table.stepCost * action.CostMultiplier()
	target := reward + cost + table.gamma*table.MaxValue(next)
	current := table.values[idx][action]
	table.values[idx][action] = current + table.alpha*(target-current)
	table.refreshPolicy(cell)
	return table.values[idx][action]
}

func (table *QTable) refreshPolicy(c grid_world.Cell) {
	best, _ := table.GreedyActions(c, make([]grid_world.Action, 0, grid_world.NUM_ACTIONS))
	if len(best) > 0 {
		table.policy[table.world.Index(c)] = best[table.rng.IntN(len(best))]
	}
}

// Snapshot copies the admissible entries into a sparse table.
func (table *QTable) Snapshot() grid_world.MapTable {
	snapshot := grid_world.MapTable{}
	table.world.VisitCells(func(c grid_world.Cell) {
		row := map[grid_world.Action]float64{}
		for _, a := range table.world.Admissible(c) {
			row[a] = table.Get(c, a)
		}
		snapshot[c] = row
	})
	return snapshot
}

// ShowMaxValues prints each cell's maximum learned value.
func (table *QTable) ShowMaxValues(w io.Writer) {
	for y := 0; y < table.world.Height(); y++ {
		fmt.Fprint(w, " ")
		for x := 0; x < table.world.Width(); x++ {
			fmt.Fprintf(w, "%7.2f ", table.MaxValue(grid_world.Cell{X: x, Y: y}))
		}
		fmt.Fprintln(w)
	}
}
