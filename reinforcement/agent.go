package reinforcement

import (
	"fmt"
	"math/rand/v2"

	"forager/grid_world"
)

// EvalRecord is one point of an agent's learning curve, appended after every step.
type EvalRecord struct {
	AgentID          int
	Step             int
	ExpectedQ        float64
	CumulativeReward float64
}

// InterventionLogEntry records one teacher intervention.
type InterventionLogEntry struct {
	Step           int
	From, To       grid_world.Cell
	OriginalAction grid_world.Action
	LandReward     float64
}

// Status is a read-only summary of an agent, for logging and views.
type Status struct {
	ID            int
	Cell          grid_world.Cell
	X, Y          float64
	Moving        bool
	Action        string
	Progress      float64
	TotalReward   float64
	Interventions int
	Step          int
	LockRemaining float64
	Done          bool
}

/*
Agent is a tabular Q-learner foraging in a GridWorld. Its movement between cells is
spread over several ticks: a decision starts a move, each tick advances the move's
progress by dt/moveTime while collecting any points under the interpolated position,
and the move completes at progress 1. From the halfway point on, a move the world
judges sub-optimal may be intercepted by the teacher, which places the agent on a
landing cell and locks it for the time the move had left.

	Idle --decide--> Moving --progress>=1--> Idle          (Q update, step++)
	                 Moving --intervene----> Locked -> Idle (handler, step++)

The agent is single-threaded and owned by whatever drives its ticks.
*/
type Agent struct {
	id     int
	cfg    AgentConfig
	params Params
	world  *grid_world.GridWorld
	table  *QTable
	rng    *rand.Rand

	cell grid_world.Cell
	// Sub-cell offset of the in-flight move; zero whenever moving is false.
	subX, subY float64
	moving     bool
	progress   float64
	action     grid_world.Action
	target     grid_world.Cell

	accumulatedReward float64
	totalReward       float64

	lockRemaining    float64
	intervened       bool
	interventionProb float64
	stopStep         int

	step int
	done bool

	visits          map[grid_world.Cell]int
	evalHistory     []EvalRecord
	interventionLog []InterventionLogEntry
	evalErr         error
}

// NewAgent validates cfg and builds an agent with a fully populated table. The rng
// is owned by the agent from here on.
func NewAgent(world *grid_world.GridWorld, cfg AgentConfig, rng *rand.Rand) (*Agent, error) {
	if world == nil || rng == nil {
		return nil, fmt.Errorf("%w: world and random source are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if world.NumCells() < 2 {
		return nil, fmt.Errorf("%w: a 1x1 grid admits no actions", ErrInvalidConfig)
	}

	params := cfg.Params()
	agent := &Agent{
		id:               cfg.ID,
		cfg:              cfg,
		params:           params,
		world:            world,
		rng:              rng,
		action:           grid_world.NoAction,
		interventionProb: params.InterventionRate,
		stopStep:         cfg.InterventionStopStep,
		visits:           map[grid_world.Cell]int{},
	}
	if agent.stopStep == 0 {
		agent.stopStep = cfg.MaxSteps
	}

	if cfg.InitialPosition != nil {
		if !world.InBounds(*cfg.InitialPosition) {
			return nil, fmt.Errorf("%w: initial position %v is off the %dx%d grid",
				ErrInvalidConfig, *cfg.InitialPosition, world.Width(), world.Height())
		}
		agent.cell = *cfg.InitialPosition
	} else {
		agent.cell = grid_world.Cell{X: rng.IntN(world.Width()), Y: rng.IntN(world.Height())}
	}
	agent.target = agent.cell
	agent.table = NewQTable(world, params, rng)
	return agent, nil
}

// Update advances the agent by one tick of length dt and reports whether it has
// finished training. A finished agent ignores further ticks.
func (agent *Agent) Update(dt float64) bool {
	if agent.done {
		return true
	}

	if agent.lockRemaining > 0 {
		agent.lockRemaining -= dt
		return false
	}

	if agent.intervened {
		agent.intervened = false
		agent.decide()
		return false
	}

	if agent.moving {
		agent.advance(dt)
	} else {
		agent.decide()
	}
	return agent.done
}

// ε-greedy over the admissible actions of the current cell, ties broken uniformly.
func (agent *Agent) decide() {
	admissible := agent.world.Admissible(agent.cell)
	var action grid_world.Action
	if agent.rng.Float64() < agent.params.Epsilon {
		action = admissible[agent.rng.IntN(len(admissible))]
	} else {
		best, _ := agent.table.GreedyActions(agent.cell, make([]grid_world.Action, 0, grid_world.NUM_ACTIONS))
		action = best[agent.rng.IntN(len(best))]
	}
	agent.beginMove(action)
}

func (agent *Agent) beginMove(action grid_world.Action) {
	agent.action = action
	agent.target = action.Apply(agent.cell)
	agent.moving = true
	agent.progress = 0
}

func (agent *Agent) advance(dt float64) {
	agent.progress += dt / agent.params.MoveTime

	dx, dy := agent.action.Delta()
	agent.subX = float64(dx) * agent.progress
	agent.subY = float64(dy) * agent.progress

	x, y := agent.Position()
	reward := float64(agent.world.CheckCollision(x, y)) * agent.params.PointValue
	agent.accumulatedReward += reward
	agent.totalReward += reward

	if agent.progress >= 0.5 &&
		!agent.world.IsOptimalAction(agent.cell, agent.action) &&
		agent.interventionProb > 0 &&
		agent.rng.Float64() < agent.interventionProb {
		agent.intervene()
		return
	}

	if agent.progress >= 1.0 {
		agent.complete()
	}
}

func (agent *Agent) complete() {
	agent.table.Update(agent.cell, agent.action, agent.accumulatedReward, agent.target)
	agent.cell = agent.target
	agent.settle()
}

func (agent *Agent) intervene() {
	landing := LandingCell(agent.world, agent.cell, agent.cfg.InterventionMode, agent.rng)
	landReward := float64(agent.world.CheckCollision(float64(landing.X), float64(landing.Y))) * agent.params.PointValue
	agent.totalReward += landReward

	agent.intervened = true
	agent.lockRemaining = agent.params.MoveTime * (1 - agent.progress)
	agent.interventionLog = append(agent.interventionLog, InterventionLogEntry{
		Step:           agent.step,
		From:           agent.cell,
		To:             landing,
		OriginalAction: agent.action,
		LandReward:     landReward,
	})

	agent.cfg.InterventionType.Handler()(agent.table, InterventionEvent{
		Origin:            agent.cell,
		Target:            agent.target,
		Landing:           landing,
		Action:            agent.action,
		AccumulatedReward: agent.accumulatedReward,
		LandReward:        landReward,
		Feedback:          agent.params.InterventionFeedback,
	})

	agent.cell = landing
	agent.target = landing
	agent.settle()
}

// Common tail of a completed move or an intervention: clear movement state, record
// the visit and advance the step.
func (agent *Agent) settle() {
	agent.subX, agent.subY = 0, 0
	agent.moving = false
	agent.progress = 0
	agent.accumulatedReward = 0
	agent.action = grid_world.NoAction
	agent.visits[agent.cell]++
	agent.incrementStep()
}

func (agent *Agent) incrementStep() {
	agent.step++
	if agent.step >= agent.stopStep {
		agent.interventionProb = 0
	}

	expected, err := agent.world.EvaluatePolicy(agent.table)
	if err != nil && agent.evalErr == nil {
		agent.evalErr = fmt.Errorf("agent %d step %d: %w", agent.id, agent.step, err)
	}
	agent.evalHistory = append(agent.evalHistory, EvalRecord{
		AgentID:          agent.id,
		Step:             agent.step,
		ExpectedQ:        expected,
		CumulativeReward: agent.totalReward,
	})

	if agent.step >= agent.cfg.MaxSteps {
		agent.done = true
	}
}

func (agent *Agent) ID() int { return agent.id }

// Position is the continuous position, cell plus sub-cell offset.
func (agent *Agent) Position() (x, y float64) {
	return float64(agent.cell.X) + agent.subX, float64(agent.cell.Y) + agent.subY
}

func (agent *Agent) Cell() grid_world.Cell { return agent.cell }
func (agent *Agent) Step() int             { return agent.step }
func (agent *Agent) Done() bool            { return agent.done }
func (agent *Agent) TotalReward() float64  { return agent.totalReward }
func (agent *Agent) Table() *QTable        { return agent.table }
func (agent *Agent) Config() AgentConfig   { return agent.cfg }

// InterventionProbability is the current probability, zero once the stop step is reached.
func (agent *Agent) InterventionProbability() float64 {
	return agent.interventionProb
}

// EvalErr returns the first policy evaluation failure, if any. A table built by
// NewQTable is total over the grid, so this stays nil in normal operation.
func (agent *Agent) EvalErr() error {
	return agent.evalErr
}

func (agent *Agent) Status() Status {
	x, y := agent.Position()
	return Status{
		ID:            agent.id,
		Cell:          agent.cell,
		X:             x,
		Y:             y,
		Moving:        agent.moving,
		Action:        agent.action.String(),
		Progress:      agent.progress,
		TotalReward:   agent.totalReward,
		Interventions: len(agent.interventionLog),
		Step:          agent.step,
		LockRemaining: agent.lockRemaining,
		Done:          agent.done,
	}
}

// VisitCounts returns a copy of the per-cell visit counts.
func (agent *Agent) VisitCounts() map[grid_world.Cell]int {
	visits := make(map[grid_world.Cell]int, len(agent.visits))
	for c, n := range agent.visits {
		visits[c] = n
	}
	return visits
}

func (agent *Agent) EvalHistory() []EvalRecord {
	return append([]EvalRecord(nil), agent.evalHistory...)
}

func (agent *Agent) InterventionLog() []InterventionLogEntry {
	return append([]InterventionLogEntry(nil), agent.interventionLog...)
}
