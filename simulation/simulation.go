/*
Package simulation drives a world and its agents on a fixed-step clock. Each tick
advances simulated time by a constant dt, updates the world's spawn process once,
then updates every unfinished agent in list order. Agents listed earlier therefore
collect contested points first; the ordering is part of the model and is kept.

Everything runs on the goroutine calling Run. Observers hook in through the
ProgressFunc, which is invoked synchronously after every tick.
*/
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"forager/grid_world"
	"forager/reinforcement"
)

// ProgressFunc is a callback by which the simulation lends progress details,
// while exercising some level of control over its cancellation to prevent blocking.
// ProgressFunc is synchronous/blocking and should be defined to complete quickly.
type ProgressFunc func(context.Context, int)

// StopReason says why Run returned.
type StopReason string

const (
	COMPLETED     StopReason = "completed"
	SIM_TIME      StopReason = "sim_time"
	DEADLINE      StopReason = "deadline"
	CANCELLED     StopReason = "cancelled"
	NOT_COMPLETED StopReason = ""
)

// TimeController is the fixed-step clock. Time is derived from the tick count
// rather than accumulated, so it does not drift.
type TimeController struct {
	TimeStep float64
	ticks    int
}

// Tick advances the clock by one step and returns the new time.
func (tc *TimeController) Tick() float64 {
	tc.ticks++
	return tc.Now()
}

func (tc *TimeController) Now() float64 {
	return float64(tc.ticks) * tc.TimeStep
}

func (tc *TimeController) Ticks() int {
	return tc.ticks
}

// StatusRecord is one periodic status line.
type StatusRecord struct {
	SimTime      float64
	WallTime     float64
	ActiveAgents int
	TotalAgents  int
	TotalPoints  int
	AvgReward    float64
}

type Simulation struct {
	cfg    *Config
	world  *grid_world.GridWorld
	agents []*reinforcement.Agent
	clock  TimeController
	logger *slog.Logger

	statusTicks int
	statusLog   []StatusRecord
	// stepTimes[i][k] is the simulated time at which agent i completed step k+1.
	stepTimes [][]float64
	started   time.Time
}

// New builds the world and agents of cfg. The world draws from PCG(seed, 0) and
// agent i from PCG(seed, i+1), so the whole run is reproducible from cfg.Seed.
func New(cfg *Config, logger *slog.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	world, err := grid_world.NewGridWorld(cfg.World, rand.New(rand.NewPCG(cfg.Seed, 0)))
	if err != nil {
		return nil, err
	}

	sim := &Simulation{
		cfg:       cfg,
		world:     world,
		clock:     TimeController{TimeStep: cfg.TimeStep},
		logger:    logger,
		stepTimes: make([][]float64, len(cfg.Agents)),
	}
	for i, agentCfg := range cfg.Agents {
		agent, err := reinforcement.NewAgent(world, agentCfg, rand.New(rand.NewPCG(cfg.Seed, uint64(i+1))))
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", agentCfg.ID, err)
		}
		sim.agents = append(sim.agents, agent)
	}
	if cfg.StatusInterval > 0 {
		sim.statusTicks = max(1, int(math.Round(cfg.StatusInterval/cfg.TimeStep)))
	}
	return sim, nil
}

func (sim *Simulation) World() *grid_world.GridWorld   { return sim.world }
func (sim *Simulation) Agents() []*reinforcement.Agent { return sim.agents }
func (sim *Simulation) Clock() *TimeController         { return &sim.clock }

func (sim *Simulation) allDone() bool {
	for _, agent := range sim.agents {
		if !agent.Done() {
			return false
		}
	}
	return true
}

func (sim *Simulation) timeExceeded() bool {
	limit := sim.cfg.MaxSimulationTime
	return limit > 0 && sim.clock.Now() >= limit
}

// Run ticks until every agent is done, the simulated time budget is spent, or ctx
// ends. The training deadline, if any, is applied to ctx here. progressFn may be nil.
//
// The results are complete up to the last tick in every case; an error is only
// returned if some agent's policy evaluation found its table incomplete.
func (sim *Simulation) Run(ctx context.Context, progressFn ProgressFunc) (*Results, error) {
	runCtx, cancel, err := sim.cfg.WithTrainingDeadline(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	sim.started = time.Now()
	sim.logger.Info("starting simulation",
		"agents", len(sim.agents),
		"world", fmt.Sprintf("%dx%d", sim.world.Width(), sim.world.Height()),
		"mode", sim.world.Mode(),
		"seed", sim.cfg.Seed)

	reason := NOT_COMPLETED
	dt := sim.clock.TimeStep
	for reason == NOT_COMPLETED {
		switch {
		case sim.allDone():
			reason = COMPLETED
			continue
		case sim.timeExceeded():
			reason = SIM_TIME
			continue
		}
		select {
		case <-runCtx.Done():
			reason = CANCELLED
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				reason = DEADLINE
			}
			continue
		default:
		}

		now := sim.clock.Tick()
		sim.world.Update(dt)
		for i, agent := range sim.agents {
			if !agent.Done() {
				agent.Update(dt)
			}
			sim.stamp(i, now)
		}
		if sim.statusTicks > 0 && sim.clock.Ticks()%sim.statusTicks == 0 {
			sim.logStatus()
		}
		if progressFn != nil {
			progressFn(runCtx, sim.clock.Ticks())
		}
	}

	results := sim.results(reason)
	sim.logger.Info("simulation finished",
		"reason", reason,
		"sim_time", round1(results.SimTime),
		"wall_time", results.WallTime.Round(time.Millisecond),
		"eval_rows", len(results.Eval))

	var evalErrs []error
	for _, agent := range sim.agents {
		if err := agent.EvalErr(); err != nil {
			evalErrs = append(evalErrs, err)
		}
	}
	return results, errors.Join(evalErrs...)
}

// Records the simulated time of any steps agent i completed this tick.
func (sim *Simulation) stamp(i int, now float64) {
	for len(sim.stepTimes[i]) < sim.agents[i].Step() {
		sim.stepTimes[i] = append(sim.stepTimes[i], now)
	}
}

// Status summarizes the run at the current tick.
func (sim *Simulation) Status() StatusRecord {
	status := StatusRecord{
		SimTime:     round1(sim.clock.Now()),
		WallTime:    round1(time.Since(sim.started).Seconds()),
		TotalAgents: len(sim.agents),
		TotalPoints: sim.world.PointCount(),
	}
	total := 0.0
	for _, agent := range sim.agents {
		if !agent.Done() {
			status.ActiveAgents++
		}
		total += agent.TotalReward()
	}
	status.AvgReward = total / float64(len(sim.agents))
	return status
}

func (sim *Simulation) logStatus() {
	status := sim.Status()
	sim.statusLog = append(sim.statusLog, status)
	sim.logger.Info("status",
		"sim_time", status.SimTime,
		"wall_time", status.WallTime,
		"active", fmt.Sprintf("%d/%d", status.ActiveAgents, status.TotalAgents),
		"points", status.TotalPoints,
		"avg_reward", fmt.Sprintf("%.1f", status.AvgReward))
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
