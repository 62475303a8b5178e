// cell_views contains views derived from the Cell view-model.
package cell_views

import (
	"fmt"
	"math"

	"forager/grid_world"
	"forager/simulation"
)

// Cell is one grid square of a simulation snapshot, reduced to fields immediately
// usable as view parameters. Max and the policy arrow describe the first agent's table.
type Cell struct {
	X, Y                int
	Max                 float64
	Probability         float64
	Points              int
	PolicyArrowRotation int
	Fill                string
}

// AgentMarker places an agent at its continuous position.
type AgentMarker struct {
	ID     int
	X, Y   float64
	Fill   string
	Locked bool
	Reward float64
}

// Grid is the view-model of a snapshot. Cells are indexed [x][y], with [0][0] the
// top-left cell as printed in the console, which is also the svg orientation.
type Grid struct {
	Cells   [][]Cell
	Agents  []AgentMarker
	Tick    int
	SimTime float64
}

var agentFills = []string{"crimson", "royalblue", "darkorange", "purple", "teal"}

// Convert transforms a snapshot into the Grid consumed by the cell views.
func Convert(snap *simulation.Snapshot) (grid Grid) {
	grid.Tick = snap.Tick
	grid.SimTime = snap.SimTime
	grid.Cells = make([][]Cell, snap.Width)
	for x := range grid.Cells {
		grid.Cells[x] = make([]Cell, snap.Height)
	}

	maxProb := 0.0
	for _, p := range snap.Probability {
		maxProb = math.Max(maxProb, p)
	}
	for y := 0; y < snap.Height; y++ {
		for x := 0; x < snap.Width; x++ {
			idx := y*snap.Width + x
			grid.Cells[x][y] = Cell{
				X:                   x,
				Y:                   y,
				Max:                 snap.MaxQ[idx],
				Probability:         snap.Probability[idx],
				Points:              snap.Points[idx],
				PolicyArrowRotation: getDegrees(snap.Greedy[idx]),
				Fill:                getFill(snap.Probability[idx], maxProb),
			}
		}
	}

	for i, status := range snap.Agents {
		grid.Agents = append(grid.Agents, AgentMarker{
			ID:     status.ID,
			X:      status.X,
			Y:      status.Y,
			Fill:   agentFills[i%len(agentFills)],
			Locked: status.LockRemaining > 0,
			Reward: status.TotalReward,
		})
	}
	return
}

// getDegrees converts an action into the degrees passed to svg's rotate() transform
// for an upward arrow rune. Degrees are clockwise from vertical, since the svg y axis
// points down like the grid's.
func getDegrees(action grid_world.Action) int {
	if !action.Valid() {
		return 0
	}
	dx, dy := action.Delta()
	deg := math.Atan2(float64(dx), float64(-dy)) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return int(math.Round(deg))
}

// getFill shades a cell green in proportion to its probability relative to the largest.
func getFill(prob, maxProb float64) string {
	if maxProb <= 0 {
		return "white"
	}
	pct := int(math.Round(100 * prob / maxProb))
	return fmt.Sprintf("rgb(%d%%,100%%,%d%%)", 100-pct/2, 100-pct)
}
