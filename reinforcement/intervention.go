package reinforcement

import (
	"math/rand/v2"

	"forager/grid_world"
)

// Learner applies one TD update; QTable is the production implementation.
type Learner interface {
	Update(cell grid_world.Cell, action grid_world.Action, reward float64, next grid_world.Cell) float64
}

// InterventionEvent is everything a reward-shaping handler may consult.
type InterventionEvent struct {
	// Origin is the cell the agent was leaving and Target the cell it was heading for.
	Origin, Target grid_world.Cell
	// Landing is where the teacher places the agent.
	Landing grid_world.Cell
	// Action is the interrupted, in-flight action.
	Action grid_world.Action
	// AccumulatedReward was collected mid-flight; LandReward exactly at Landing.
	AccumulatedReward float64
	LandReward        float64
	// Feedback is the agent's fixed intervention feedback.
	Feedback float64
}

func (ev *InterventionEvent) draggedBack() bool {
	return ev.Landing == ev.Origin
}

// The direction the teacher displaced the agent in. Only valid when not dragged back.
func (ev *InterventionEvent) towardsLanding() grid_world.Action {
	action, _ := grid_world.ActionTowards(ev.Origin, ev.Landing)
	return action
}

// InterventionHandler applies whatever updates an intervention type calls for.
type InterventionHandler func(learner Learner, ev InterventionEvent)

var interventionHandlers = [NUM_INTERVENTION_TYPES]InterventionHandler{
	SUGGESTION: func(learner Learner, ev InterventionEvent) {
		if ev.draggedBack() {
			return
		}
		learner.Update(ev.Origin, ev.towardsLanding(), ev.LandReward, ev.Landing)
	},
	RESET: func(learner Learner, ev InterventionEvent) {
		learner.Update(ev.Origin, ev.Action, ev.AccumulatedReward, ev.Target)
	},
	INTERRUPT: func(Learner, InterventionEvent) {},
	TRANSITION: func(learner Learner, ev InterventionEvent) {
		if ev.draggedBack() {
			learner.Update(ev.Origin, ev.Action, ev.Feedback, ev.Target)
			return
		}
		learner.Update(ev.Origin, ev.towardsLanding(), -ev.Feedback, ev.Landing)
	},
	DISRUPT: func(learner Learner, ev InterventionEvent) {
		if ev.draggedBack() {
			return
		}
		learner.Update(ev.Origin, ev.towardsLanding(), ev.Feedback, ev.Landing)
	},
	IMPEDE: func(learner Learner, ev InterventionEvent) {
		learner.Update(ev.Origin, ev.Action, ev.Feedback, ev.Target)
	},
}

// Handler returns the reward-shaping rule of the type.
func (t InterventionType) Handler() InterventionHandler {
	return interventionHandlers[t]
}

// LandingCell picks the cell an intervened agent is placed on.
//
// DRAG_BACK returns origin. NEAREST_MAX and NEAREST_MIN pick uniformly among the cells
// of the 5x5 neighborhood of origin (clipped to the grid) attaining its maximum or
// minimum probability. DIVERSIFY first picks a NEAREST_MAX cell, then lands uniformly
// on one of that pick's 3x3 neighbors whose probability differs from it, falling
// back to origin when every neighbor has the same probability.
func LandingCell(
	world *grid_world.GridWorld,
	origin grid_world.Cell,
	mode LandingMode,
	rng *rand.Rand,
) grid_world.Cell {
	if mode == DRAG_BACK {
		return origin
	}

	extremum := extremeNeighbors(world, origin, mode == NEAREST_MIN)
	if len(extremum) == 0 {
		return origin
	}
	pick := extremum[rng.IntN(len(extremum))]
	if mode != DIVERSIFY {
		return pick
	}

	pickProb := world.Probability(pick.X, pick.Y)
	var nearby []grid_world.Cell
	for x := max(0, pick.X-1); x <= min(world.Width()-1, pick.X+1); x++ {
		for y := max(0, pick.Y-1); y <= min(world.Height()-1, pick.Y+1); y++ {
			c := grid_world.Cell{X: x, Y: y}
			if c != pick && world.Probability(x, y) != pickProb {
				nearby = append(nearby, c)
			}
		}
	}
	if len(nearby) == 0 {
		return origin
	}
	return nearby[rng.IntN(len(nearby))]
}

// The cells of the clipped 5x5 neighborhood sharing its max (or min) probability, row by row.
func extremeNeighbors(world *grid_world.GridWorld, origin grid_world.Cell, lowest bool) (cells []grid_world.Cell) {
	var target float64
	for y := max(0, origin.Y-2); y <= min(world.Height()-1, origin.Y+2); y++ {
		for x := max(0, origin.X-2); x <= min(world.Width()-1, origin.X+2); x++ {
			p := world.Probability(x, y)
			switch {
			case len(cells) == 0, p == target:
			case (lowest && p < target) || (!lowest && p > target):
				cells = cells[:0]
			default:
				continue
			}
			target = p
			cells = append(cells, grid_world.Cell{X: x, Y: y})
		}
	}
	return
}
