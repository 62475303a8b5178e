package sweep

import (
	"errors"
	"fmt"
	"math"
	"path"

	"forager/export"
	"forager/grid_world"
	"forager/reinforcement"
	"forager/simulation"
)

var ErrInvalidPlan = errors.New("invalid sweep plan")

// Plan is the parameter grid of an experiment: every combination of its axes is a
// Condition, and every condition is simulated Runs times. Narrowing an axis filters
// the sweep.
type Plan struct {
	Sizes        []int
	WorldModes   []grid_world.SpawnMode
	Types        []reinforcement.InterventionType
	Rates        []float64
	LandingModes []reinforcement.LandingMode

	Runs int
	// Runs with index >= StopFromRun stop intervening at StopStep. Negative means Runs/2.
	StopFromRun int
	StopStep    int
	MaxSteps    int

	SpawnRate    float64
	EvalSteps    int
	EvalEpisodes int
	TimeStep     float64
	// Seed of run 0. Run n uses Seed+n, so runs with the same index share a seed
	// across conditions.
	Seed uint64
}

func DefaultPlan() Plan {
	world := grid_world.DefaultConfig()
	return Plan{
		Sizes:        []int{8, 10, 12},
		WorldModes:   []grid_world.SpawnMode{grid_world.SCATTERED, grid_world.CLUSTERED},
		Types:        append([]reinforcement.InterventionType(nil), reinforcement.InterventionTypes...),
		Rates:        []float64{0.25, 0.5, 0.75, 1.0},
		LandingModes: append([]reinforcement.LandingMode(nil), reinforcement.LandingModes...),
		Runs:         100,
		StopFromRun:  -1,
		StopStep:     500,
		MaxSteps:     reinforcement.DEFAULT_MAX_STEPS,
		SpawnRate:    10,
		EvalSteps:    world.EvalSteps,
		EvalEpisodes: world.EvalEpisodes,
		TimeStep:     0.1,
		Seed:         1,
	}
}

func (plan *Plan) Validate() error {
	if len(plan.Sizes) == 0 || len(plan.WorldModes) == 0 || len(plan.Types) == 0 ||
		len(plan.Rates) == 0 || len(plan.LandingModes) == 0 {
		return fmt.Errorf("%w: every axis needs at least one value", ErrInvalidPlan)
	}
	if plan.Runs <= 0 {
		return fmt.Errorf("%w: runs must be positive, got %d", ErrInvalidPlan, plan.Runs)
	}
	for _, size := range plan.Sizes {
		for _, mode := range plan.WorldModes {
			if mode == grid_world.CLUSTERED && size*size < CLUSTERED_CELLS {
				return fmt.Errorf("%w: a %dx%d world cannot hold %d clustered cells", ErrInvalidPlan, size, size, CLUSTERED_CELLS)
			}
		}
	}
	for _, cond := range plan.Conditions() {
		cfg := plan.Config(cond, plan.Runs-1)
		errs := []error{cfg.Validate(), cfg.World.Validate()}
		for _, agent := range cfg.Agents {
			errs = append(errs, agent.Validate())
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPlan, cond.Dir(), err)
		}
	}
	return nil
}

func (plan *Plan) stopFromRun() int {
	if plan.StopFromRun < 0 {
		return plan.Runs / 2
	}
	return plan.StopFromRun
}

// Condition is one combination of the plan's axes.
type Condition struct {
	Size        int
	WorldMode   grid_world.SpawnMode
	Type        reinforcement.InterventionType
	Rate        float64
	LandingMode reinforcement.LandingMode
}

// Dir is the condition's results directory, e.g. world2_size_8/type_1_rate_0.5_mode_3.
func (cond Condition) Dir() string {
	return path.Join(
		fmt.Sprintf("world%d_size_%d", int(cond.WorldMode), cond.Size),
		fmt.Sprintf("type_%d_rate_%s_mode_%d", int(cond.Type), export.FormatFloat(cond.Rate), int(cond.LandingMode)),
	)
}

// Conditions enumerates the grid with size outermost and landing mode innermost.
func (plan *Plan) Conditions() (conds []Condition) {
	for _, size := range plan.Sizes {
		for _, worldMode := range plan.WorldModes {
			for _, kind := range plan.Types {
				for _, rate := range plan.Rates {
					for _, landing := range plan.LandingModes {
						conds = append(conds, Condition{
							Size:        size,
							WorldMode:   worldMode,
							Type:        kind,
							Rate:        rate,
							LandingMode: landing,
						})
					}
				}
			}
		}
	}
	return
}

// The number of selected cells in clustered worlds, whatever their size.
const CLUSTERED_CELLS = 18

// World returns the world of a condition. Scattered worlds select a fifth of their
// cells, clustered worlds allocate CLUSTERED_CELLS around two opposite corners. The
// layout seed is the grid size, so every run of a size sees the same layout.
func (plan *Plan) World(size int, mode grid_world.SpawnMode) grid_world.Config {
	world := grid_world.DefaultConfig()
	world.Width, world.Height = size, size
	world.Mode = mode
	world.RandomSeed = int64(size)
	world.SpawnRate = plan.SpawnRate
	world.EvalSteps = plan.EvalSteps
	world.EvalEpisodes = plan.EvalEpisodes

	switch mode {
	case grid_world.SCATTERED:
		world.RandomGrid = int(math.Round(float64(size*size) * 0.2))
	case grid_world.CLUSTERED:
		world.RandomGrid = CLUSTERED_CELLS
		far := float64(size) - 2.5
		world.Mode3Centers = [][]float64{{2.5, 2.5}, {far, far}}
	}
	return world
}

// Config builds the simulation of one run: two identical agents under the condition.
func (plan *Plan) Config(cond Condition, run int) *simulation.Config {
	cfg := simulation.DefaultConfig()
	cfg.Seed = plan.Seed + uint64(run)
	cfg.TimeStep = plan.TimeStep
	cfg.StatusInterval = 0
	cfg.World = plan.World(cond.Size, cond.WorldMode)

	cfg.Agents = cfg.Agents[:0]
	for id := 0; id < 2; id++ {
		agent := reinforcement.DefaultAgentConfig()
		agent.ID = id
		agent.MaxSteps = plan.MaxSteps
		agent.InterventionType = cond.Type
		agent.InterventionMode = cond.LandingMode
		agent.SetHyperParam("interventionRate", cond.Rate)
		if run >= plan.stopFromRun() {
			agent.InterventionStopStep = plan.StopStep
		}
		cfg.Agents = append(cfg.Agents, agent)
	}
	return cfg
}
