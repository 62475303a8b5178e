package simulation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"forager/grid_world"
	"forager/reinforcement"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// KIND is the expected `kind` of a simulation config file.
const KIND = "simulation"

var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrWrongKind     = errors.New("unexpected config kind")
)

// OuterConfig is the envelope shared by every config file: a kind selector and
// the kind-specific definition.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// Config describes one simulation: a world, the agents foraging in it, and the clock.
type Config struct {
	// Seed drives every random stream of the run.
	Seed     uint64  `yaml:"seed"`
	TimeStep float64 `yaml:"timeStep"`
	// MaxSimulationTime stops the run after this much simulated time; zero is unlimited.
	MaxSimulationTime float64 `yaml:"maxSimulationTime"`
	// StatusInterval is the simulated time between status log lines.
	StatusInterval float64 `yaml:"statusInterval"`
	// TrainingDeadline is a wall-clock budget, e.g. {duration: 10m}.
	TrainingDeadline map[string]string           `yaml:"trainingDeadline,omitempty"`
	World            grid_world.Config           `yaml:"world"`
	Agents           []reinforcement.AgentConfig `yaml:"agents"`
}

// DefaultConfig returns two default agents on the default world.
func DefaultConfig() *Config {
	first := reinforcement.DefaultAgentConfig()
	second := reinforcement.DefaultAgentConfig()
	second.ID = 1
	return &Config{
		Seed:           1,
		TimeStep:       0.1,
		StatusInterval: 5,
		World:          grid_world.DefaultConfig(),
		Agents:         []reinforcement.AgentConfig{first, second},
	}
}

func (cfg *Config) Validate() error {
	if cfg.TimeStep <= 0 {
		return fmt.Errorf("%w: timeStep must be positive, got %v", ErrInvalidConfig, cfg.TimeStep)
	}
	if cfg.MaxSimulationTime < 0 || cfg.StatusInterval < 0 {
		return fmt.Errorf("%w: maxSimulationTime and statusInterval must be non-negative", ErrInvalidConfig)
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalidConfig)
	}
	ids := map[int]bool{}
	for _, agent := range cfg.Agents {
		if ids[agent.ID] {
			return fmt.Errorf("%w: duplicate agent id %d", ErrInvalidConfig, agent.ID)
		}
		ids[agent.ID] = true
	}
	if _, err := cfg.trainingDuration(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// MaxSteps is the largest step budget of any agent.
func (cfg *Config) MaxSteps() (steps int) {
	for _, agent := range cfg.Agents {
		steps = max(steps, agent.MaxSteps)
	}
	return
}

func (cfg *Config) trainingDuration() (time.Duration, error) {
	val, ok := cfg.TrainingDeadline["duration"]
	if !ok {
		return 0, nil
	}
	return time.ParseDuration(val)
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *Config) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	duration, err := cfg.trainingDuration()
	if err != nil {
		return nil, nil, err
	}
	if duration > 0 {
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// FromYaml loads a simulation config file of the form {kind: simulation, def: {...}}.
// Keys omitted from def keep the values of DefaultConfig.
//
// Viper reads the envelope. It folds the case of nested map keys but not of keys
// inside lists, so the def node is decoded from the same file with yaml.v3.
func FromYaml(path string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != KIND {
		return nil, fmt.Errorf("%w: %s declares %q, want %q", ErrWrongKind, path, outerConfig.Kind, KIND)
	}
	if outerConfig.Def == nil {
		return nil, fmt.Errorf("%w: %s has no def", ErrInvalidConfig, path)
	}

	var spec []byte
	if spec, err = os.ReadFile(vp.ConfigFileUsed()); err != nil {
		return nil, err
	}
	var doc struct {
		Def yaml.Node `yaml:"def"`
	}
	if err = yaml.Unmarshal(spec, &doc); err != nil {
		return nil, err
	}

	innerConfig := DefaultConfig()
	if err = doc.Def.Decode(innerConfig); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return innerConfig, innerConfig.Validate()
}
