// grid_world is the foraging environment: a fixed grid whose cells spawn collectible
// points according to a static probability field. Besides the stochastic spawn
// process it owns a learning-independent reference table, built once from the
// field, that judges which actions are optimal from each cell, and a Monte-Carlo
// routine that scores an arbitrary learned table against that same field.
package grid_world

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// SpawnMode selects how the probability field is constructed and sampled.
type SpawnMode int

const (
	// MIXTURE averages N Gaussian patches integrated over each unit cell.
	MIXTURE SpawnMode = 1
	// SCATTERED places uniform probability on a seeded random subset of cells.
	SCATTERED SpawnMode = 2
	// CLUSTERED places uniform probability on the cells nearest a set of centers.
	CLUSTERED SpawnMode = 3
)

func (m SpawnMode) String() string {
	switch m {
	case MIXTURE:
		return "mixture"
	case SCATTERED:
		return "scattered"
	case CLUSTERED:
		return "clustered"
	}
	return fmt.Sprintf("SpawnMode(%d)", int(m))
}

func (m SpawnMode) isSubset() bool {
	return m == SCATTERED || m == CLUSTERED
}

var (
	// ErrInvalidConfig is returned for malformed construction parameters.
	ErrInvalidConfig = errors.New("invalid grid world config")
	// ErrUnknownMode is returned for a spawn mode other than 1, 2 or 3.
	ErrUnknownMode = errors.New("unknown spawn mode")
)

// Config holds the construction parameters of a GridWorld.
type Config struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// PatchMeans and PatchVars are [x,y] pairs, one per Gaussian patch (mixture mode).
	PatchMeans [][]float64 `yaml:"patchMeans"`
	PatchVars  [][]float64 `yaml:"patchVars"`
	// SpawnRate is the expected number of points spawned per unit of time.
	SpawnRate float64   `yaml:"spawnRate"`
	Mode      SpawnMode `yaml:"mode"`
	// RandomSeed only seeds the selection of cells in scattered mode, so the grid
	// layout is independent of the run seed.
	RandomSeed int64 `yaml:"randomSeed"`
	// RandomGrid is the number of selected cells in the subset modes.
	RandomGrid int `yaml:"randomGrid"`
	// Mode3Centers are the [x,y] centers around which clustered cells are allocated.
	Mode3Centers [][]float64 `yaml:"mode3Centers"`
	EvalSteps    int         `yaml:"evalSteps"`
	EvalEpisodes int         `yaml:"evalEpisodes"`
}

// DefaultConfig returns the canonical 8x8 mixture world.
func DefaultConfig() Config {
	return Config{
		Width:        8,
		Height:       8,
		PatchMeans:   [][]float64{{3, 3}, {3, 3}},
		PatchVars:    [][]float64{{0.75, 0.75}, {0.75, 0.75}},
		SpawnRate:    10,
		Mode:         MIXTURE,
		RandomSeed:   3,
		RandomGrid:   16,
		Mode3Centers: [][]float64{{3, 3}},
		EvalSteps:    30,
		EvalEpisodes: 100,
	}
}

// Validate checks shapes and ranges. Every failure wraps ErrInvalidConfig or ErrUnknownMode.
func (cfg *Config) Validate() error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: grid must be at least 1x1, got %dx%d", ErrInvalidConfig, cfg.Width, cfg.Height)
	}
	if cfg.SpawnRate < 0 {
		return fmt.Errorf("%w: spawn rate must be non-negative, got %v", ErrInvalidConfig, cfg.SpawnRate)
	}
	if cfg.EvalSteps < 0 || cfg.EvalEpisodes < 0 {
		return fmt.Errorf("%w: eval steps and episodes must be non-negative", ErrInvalidConfig)
	}
	if len(cfg.PatchMeans) != len(cfg.PatchVars) {
		return fmt.Errorf("%w: patchMeans and patchVars must have same length (%d != %d)",
			ErrInvalidConfig, len(cfg.PatchMeans), len(cfg.PatchVars))
	}
	for i, m := range cfg.PatchMeans {
		if len(m) != 2 {
			return fmt.Errorf("%w: patchMeans[%d] must be in [x,y] format", ErrInvalidConfig, i)
		}
	}
	for i, v := range cfg.PatchVars {
		if len(v) != 2 {
			return fmt.Errorf("%w: patchVars[%d] must be in [varX,varY] format", ErrInvalidConfig, i)
		}
	}

	switch cfg.Mode {
	case MIXTURE:
		if len(cfg.PatchMeans) == 0 {
			return fmt.Errorf("%w: mixture mode requires at least one patch", ErrInvalidConfig)
		}
		for i, v := range cfg.PatchVars {
			if v[0] <= 0 || v[1] <= 0 {
				return fmt.Errorf("%w: patchVars[%d] must be positive", ErrInvalidConfig, i)
			}
		}
	case SCATTERED, CLUSTERED:
		if cfg.RandomGrid <= 0 {
			return fmt.Errorf("%w: randomGrid must be positive in %v mode", ErrInvalidConfig, cfg.Mode)
		}
		if cfg.Mode == CLUSTERED {
			if len(cfg.Mode3Centers) == 0 {
				return fmt.Errorf("%w: clustered mode requires at least one center", ErrInvalidConfig)
			}
			for i, c := range cfg.Mode3Centers {
				if len(c) != 2 {
					return fmt.Errorf("%w: mode3Centers[%d] must be in [x,y] format", ErrInvalidConfig, i)
				}
			}
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(cfg.Mode))
	}
	return nil
}

// GridWorld is the environment model. The probability field, selected grids,
// admissible actions and reference table are computed once in NewGridWorld and
// never mutated afterward; only the point collection changes.
type GridWorld struct {
	width, height int
	cfg           Config

	// rows[y][x], i.e. row-major with y as the row index.
	rows          [][]float64
	selectedGrids []Cell
	// admissible[idx] lists the actions that keep an agent on the grid from that cell.
	admissible [][]Action
	reference  *ReferenceTable

	// points buckets spawned positions by the cell containing them.
	points     map[Cell][]Point
	pointCount int

	rng     *rand.Rand
	evalRng *rand.Rand
}

// NewGridWorld validates the config and builds the static structures. The rng is
// owned by the world from here on; policy evaluation draws from a child stream
// derived from it so that evaluation and spawning do not interleave draws.
func NewGridWorld(cfg Config, rng *rand.Rand) (*GridWorld, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}
	// Zero means unset for the evaluation budget; EvaluatePolicyN takes explicit values.
	def := DefaultConfig()
	if cfg.EvalSteps == 0 {
		cfg.EvalSteps = def.EvalSteps
	}
	if cfg.EvalEpisodes == 0 {
		cfg.EvalEpisodes = def.EvalEpisodes
	}
	if cfg.RandomGrid > cfg.Width*cfg.Height {
		cfg.RandomGrid = cfg.Width * cfg.Height
	}

	world := &GridWorld{
		width:   cfg.Width,
		height:  cfg.Height,
		cfg:     cfg,
		points:  map[Cell][]Point{},
		rng:     rng,
		evalRng: rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())),
	}

	world.admissible = make([][]Action, cfg.Width*cfg.Height)
	world.VisitCells(func(c Cell) {
		for _, a := range Actions {
			if world.InBounds(a.Apply(c)) {
				world.admissible[world.index(c)] = append(world.admissible[world.index(c)], a)
			}
		}
	})

	if cfg.Mode.isSubset() {
		world.selectedGrids = selectGrids(&cfg)
	}
	world.rows = buildProbabilityField(&cfg, world.selectedGrids)
	world.reference = buildReferenceTable(world)
	return world, nil
}

func (world *GridWorld) Width() int  { return world.width }
func (world *GridWorld) Height() int { return world.height }
func (world *GridWorld) Mode() SpawnMode {
	return world.cfg.Mode
}

// Config returns the effective construction parameters.
func (world *GridWorld) Config() Config {
	return world.cfg
}

// InBounds reports whether c lies within [0,width)x[0,height).
func (world *GridWorld) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < world.width && c.Y >= 0 && c.Y < world.height
}

func (world *GridWorld) index(c Cell) int {
	return c.Y*world.width + c.X
}

// NumCells is the number of cells on the grid.
func (world *GridWorld) NumCells() int {
	return world.width * world.height
}

// CellAt is the inverse of the dense cell index used by per-cell arenas.
func (world *GridWorld) CellAt(idx int) Cell {
	return Cell{X: idx % world.width, Y: idx / world.width}
}

// Index returns the dense arena index of an on-grid cell.
func (world *GridWorld) Index(c Cell) int {
	return world.index(c)
}

// Admissible returns the cached actions that keep an agent on the grid from c.
// The returned slice is shared and must not be modified.
func (world *GridWorld) Admissible(c Cell) []Action {
	if !world.InBounds(c) {
		return nil
	}
	return world.admissible[world.index(c)]
}

// Probability returns the spawn probability of cell (x,y). The field is stored with
// y as the row index, hence the transposition.
func (world *GridWorld) Probability(x, y int) float64 {
	return world.rows[y][x]
}

// ProbabilityField returns a copy of the field, indexed [y][x].
func (world *GridWorld) ProbabilityField() [][]float64 {
	field := make([][]float64, len(world.rows))
	for y, row := range world.rows {
		field[y] = append([]float64(nil), row...)
	}
	return field
}

// SelectedGrids returns the fixed subset of cells for the subset modes, nil otherwise.
func (world *GridWorld) SelectedGrids() []Cell {
	return append([]Cell(nil), world.selectedGrids...)
}

// GetSpawnGrids lists every cell in which a point can appear: the selected
// subset in the subset modes and the whole grid (x-major) in mixture mode.
func (world *GridWorld) GetSpawnGrids() []Cell {
	if world.cfg.Mode.isSubset() {
		return world.SelectedGrids()
	}
	grids := make([]Cell, 0, world.NumCells())
	for x := 0; x < world.width; x++ {
		for y := 0; y < world.height; y++ {
			grids = append(grids, Cell{X: x, Y: y})
		}
	}
	return grids
}

// VisitCells calls fn for every cell, row by row.
func (world *GridWorld) VisitCells(fn func(c Cell)) {
	for y := 0; y < world.height; y++ {
		for x := 0; x < world.width; x++ {
			fn(Cell{X: x, Y: y})
		}
	}
}
