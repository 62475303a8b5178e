package simulation

import (
	"time"

	"forager/grid_world"
	"forager/reinforcement"
)

// EvalRow is one step of one agent's learning curve.
type EvalRow struct {
	AgentID          int
	Step             int
	SimTime          float64
	ExpectedQ        float64
	CumulativeReward float64
}

// VisitRow counts how often each agent visited one spawn cell. Visits[i] belongs
// to Results.AgentIDs[i].
type VisitRow struct {
	Cell   grid_world.Cell
	Visits []int
}

type Results struct {
	AgentIDs []int
	// Eval holds every agent's rows, agent by agent in list order.
	Eval   []EvalRow
	Visits []VisitRow
	Status []StatusRecord

	// Interventions[i] counts the interventions applied to Results.AgentIDs[i].
	Interventions []int

	SimTime    float64
	WallTime   time.Duration
	StopReason StopReason
}

func (sim *Simulation) results(reason StopReason) *Results {
	results := &Results{
		Visits:     sim.VisitStatistics(),
		Status:     append([]StatusRecord(nil), sim.statusLog...),
		SimTime:    sim.clock.Now(),
		WallTime:   time.Since(sim.started),
		StopReason: reason,
	}
	for i, agent := range sim.agents {
		results.AgentIDs = append(results.AgentIDs, agent.ID())
		results.Interventions = append(results.Interventions, len(agent.InterventionLog()))
		for k, rec := range agent.EvalHistory() {
			results.Eval = append(results.Eval, EvalRow{
				AgentID:          rec.AgentID,
				Step:             rec.Step,
				SimTime:          sim.stepTimes[i][k],
				ExpectedQ:        rec.ExpectedQ,
				CumulativeReward: rec.CumulativeReward,
			})
		}
	}
	return results
}

// VisitStatistics tabulates the visits of every agent over the world's spawn cells.
func (sim *Simulation) VisitStatistics() (rows []VisitRow) {
	counts := make([]map[grid_world.Cell]int, len(sim.agents))
	for i, agent := range sim.agents {
		counts[i] = agent.VisitCounts()
	}
	for _, c := range sim.world.GetSpawnGrids() {
		row := VisitRow{Cell: c, Visits: make([]int, len(sim.agents))}
		for i := range sim.agents {
			row.Visits[i] = counts[i][c]
		}
		rows = append(rows, row)
	}
	return
}

// Snapshot is a copy of the observable state at one tick, for views.
type Snapshot struct {
	Tick    int
	SimTime float64
	Width   int
	Height  int
	// Probability, Points, Greedy and MaxQ are indexed y*Width+x. Greedy and MaxQ
	// describe the first agent's table; Greedy is NoAction for cells without actions.
	Probability []float64
	Points      []int
	Greedy      []grid_world.Action
	MaxQ        []float64
	Agents      []reinforcement.Status
}

// Snapshot copies the current state. It must be called from the goroutine running
// Run, e.g. inside the ProgressFunc.
func (sim *Simulation) Snapshot() *Snapshot {
	world := sim.world
	n := world.NumCells()
	snap := &Snapshot{
		Tick:        sim.clock.Ticks(),
		SimTime:     sim.clock.Now(),
		Width:       world.Width(),
		Height:      world.Height(),
		Probability: make([]float64, n),
		Points:      make([]int, n),
		Greedy:      make([]grid_world.Action, n),
		MaxQ:        make([]float64, n),
	}

	table := sim.agents[0].Table()
	greedy := make([]grid_world.Action, 0, grid_world.NUM_ACTIONS)
	world.VisitCells(func(c grid_world.Cell) {
		idx := c.Y*snap.Width + c.X
		snap.Probability[idx] = world.Probability(c.X, c.Y)
		snap.Points[idx] = world.PointsAt(c)
		snap.MaxQ[idx] = table.MaxValue(c)
		snap.Greedy[idx] = grid_world.NoAction
		if greedy, _ = table.GreedyActions(c, greedy[:0]); len(greedy) > 0 {
			snap.Greedy[idx] = greedy[0]
		}
	})
	for _, agent := range sim.agents {
		snap.Agents = append(snap.Agents, agent.Status())
	}
	return snap
}
