package grid_world

import (
	"fmt"
	"io"
)

// Console views for development. These print with the y axis pointing down, i.e.
// the same orientation as the cell coordinates.

var arrows = [NUM_ACTIONS]rune{
	UP:        '↑',
	DOWN:      '↓',
	LEFT:      '←',
	RIGHT:     '→',
	UPLEFT:    '↖',
	UPRIGHT:   '↗',
	DOWNLEFT:  '↙',
	DOWNRIGHT: '↘',
}

// Arrow returns a rune depicting the action's direction.
func (a Action) Arrow() rune {
	if !a.Valid() {
		return '·'
	}
	return arrows[a]
}

// ShowProbabilities prints the spawn probability of every cell, scaled to 0-100
// and rounded to one decimal.
func (world *GridWorld) ShowProbabilities(w io.Writer) {
	fmt.Fprintln(w, "Probability distribution map (y-axis downward):")
	total := 0.0
	for y := 0; y < world.height; y++ {
		fmt.Fprint(w, " ")
		for x := 0; x < world.width; x++ {
			p := world.Probability(x, y)
			total += p
			fmt.Fprintf(w, "%5.1f ", 100*p)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total: %.4f\n", total)
}

// ShowGrid marks the cells that can spawn points with '#'.
func (world *GridWorld) ShowGrid(w io.Writer) {
	spawns := map[Cell]bool{}
	for _, c := range world.GetSpawnGrids() {
		spawns[c] = true
	}
	for y := 0; y < world.height; y++ {
		for x := 0; x < world.width; x++ {
			if spawns[Cell{X: x, Y: y}] && world.Probability(x, y) > 0 {
				fmt.Fprint(w, "# ")
			} else {
				fmt.Fprint(w, ". ")
			}
		}
		fmt.Fprintln(w)
	}
}

// ShowPolicy prints one greedy action per cell. When several actions tie, the
// first in action order is shown; cells absent from the table print '?'.
func (world *GridWorld) ShowPolicy(w io.Writer, table ActionValuer) {
	greedy := make([]Action, 0, NUM_ACTIONS)
	for y := 0; y < world.height; y++ {
		fmt.Fprint(w, " ")
		for x := 0; x < world.width; x++ {
			var ok bool
			greedy, ok = table.GreedyActions(Cell{X: x, Y: y}, greedy[:0])
			switch {
			case !ok:
				fmt.Fprint(w, "? ")
			case len(greedy) == 0:
				fmt.Fprint(w, "- ")
			default:
				fmt.Fprintf(w, "%c ", greedy[0].Arrow())
			}
		}
		fmt.Fprintln(w)
	}
}
