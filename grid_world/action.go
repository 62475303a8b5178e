package grid_world

import (
	"fmt"
	"math"
)

// Cell is a unit grid square addressed by integer x/y. The y axis points
// downward, so (0,0) is the top-left cell when printed in a console.
type Cell struct {
	X, Y int
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Action is one of the eight compass moves available to an agent.
type Action int

// The order of these matters: it is the iteration order used everywhere a
// set of actions is enumerated, and the order in which direction ties are broken.
const (
	UP Action = iota
	DOWN
	LEFT
	RIGHT
	UPLEFT
	UPRIGHT
	DOWNLEFT
	DOWNRIGHT

	NUM_ACTIONS = 8
)

// NoAction marks the absence of an in-flight action.
const NoAction Action = -1

var actionDeltas = [NUM_ACTIONS][2]int{
	UP:        {0, -1},
	DOWN:      {0, 1},
	LEFT:      {-1, 0},
	RIGHT:     {1, 0},
	UPLEFT:    {-1, -1},
	UPRIGHT:   {1, -1},
	DOWNLEFT:  {-1, 1},
	DOWNRIGHT: {1, 1},
}

var actionNames = [NUM_ACTIONS]string{
	UP:        "UP",
	DOWN:      "DOWN",
	LEFT:      "LEFT",
	RIGHT:     "RIGHT",
	UPLEFT:    "UPLEFT",
	UPRIGHT:   "UPRIGHT",
	DOWNLEFT:  "DOWNLEFT",
	DOWNRIGHT: "DOWNRIGHT",
}

// Actions lists every action in enumeration order.
var Actions = [NUM_ACTIONS]Action{UP, DOWN, LEFT, RIGHT, UPLEFT, UPRIGHT, DOWNLEFT, DOWNRIGHT}

func (a Action) Valid() bool {
	return a >= 0 && a < NUM_ACTIONS
}

func (a Action) String() string {
	if !a.Valid() {
		return "NONE"
	}
	return actionNames[a]
}

// Delta returns the unit displacement of the action.
func (a Action) Delta() (dx, dy int) {
	d := actionDeltas[a]
	return d[0], d[1]
}

// IsDiagonal is true for the four corner moves.
func (a Action) IsDiagonal() bool {
	dx, dy := a.Delta()
	return dx != 0 && dy != 0
}

// CostMultiplier scales the per-step cost by the distance travelled: 1 for
// orthogonal moves and √2 for diagonal ones.
func (a Action) CostMultiplier() float64 {
	if a.IsDiagonal() {
		return math.Sqrt2
	}
	return 1.0
}

// Apply returns the cell reached by taking the action from c, which may be off-grid.
func (a Action) Apply(c Cell) Cell {
	dx, dy := a.Delta()
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

// ActionTowards snaps the displacement from origin to target onto the nearest of
// the eight directions. The displacement is normalized by its Chebyshev length and
// compared against each unit direction by squared distance; ties go to the earlier
// action in enumeration order. ok is false when origin == target.
func ActionTowards(origin, target Cell) (action Action, ok bool) {
	dx := target.X - origin.X
	dy := target.Y - origin.Y
	norm := max(abs(dx), abs(dy))
	if norm == 0 {
		return NoAction, false
	}

	ux := float64(dx) / float64(norm)
	uy := float64(dy) / float64(norm)
	best := math.MaxFloat64
	for _, a := range Actions {
		ax, ay := a.Delta()
		dist := (ux-float64(ax))*(ux-float64(ax)) + (uy-float64(ay))*(uy-float64(ay))
		if dist < best {
			best = dist
			action = a
		}
	}
	return action, true
}

// ParseAction converts an action name (as printed by String) back into an Action.
func ParseAction(name string) (Action, error) {
	for _, a := range Actions {
		if actionNames[a] == name {
			return a, nil
		}
	}
	return NoAction, fmt.Errorf("unknown action %q", name)
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
