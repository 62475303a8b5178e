package reinforcement

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"forager/grid_world"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig           = errors.New("invalid agent config")
	ErrUnknownInterventionType = errors.New("unknown intervention type")
)

// InterventionType selects what, if anything, an agent learns from a teacher intervention.
type InterventionType int

const (
	// SUGGESTION treats the landing cell as a suggested move and learns its landing reward.
	SUGGESTION InterventionType = iota
	// RESET learns exactly what the uninterrupted move would have taught.
	RESET
	// INTERRUPT discards the learning signal entirely.
	INTERRUPT
	// TRANSITION penalizes a drag-back and rewards a displacement.
	TRANSITION
	// DISRUPT penalizes the move towards the landing cell, when there was one.
	DISRUPT
	// IMPEDE penalizes the original move towards its original target.
	IMPEDE

	NUM_INTERVENTION_TYPES = 6
)

var interventionNames = [NUM_INTERVENTION_TYPES]string{
	SUGGESTION: "suggestion",
	RESET:      "reset",
	INTERRUPT:  "interrupt",
	TRANSITION: "transition",
	DISRUPT:    "disrupt",
	IMPEDE:     "impede",
}

// InterventionTypes lists every type in tag order.
var InterventionTypes = []InterventionType{SUGGESTION, RESET, INTERRUPT, TRANSITION, DISRUPT, IMPEDE}

func (t InterventionType) Valid() bool {
	return t >= 0 && t < NUM_INTERVENTION_TYPES
}

func (t InterventionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("InterventionType(%d)", int(t))
	}
	return interventionNames[t]
}

// ParseInterventionType accepts either a type name (case-insensitive) or its integer tag.
func ParseInterventionType(s string) (InterventionType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if t := InterventionType(n); t.Valid() {
			return t, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrUnknownInterventionType, n)
	}
	for i, name := range interventionNames {
		if strings.EqualFold(name, s) {
			return InterventionType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownInterventionType, s)
}

// UnmarshalYAML lets configs name the type (`impede`) or use its tag (`5`).
func (t *InterventionType) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: expected a scalar at line %d", ErrUnknownInterventionType, value.Line)
	}
	parsed, err := ParseInterventionType(value.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t InterventionType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// LandingMode selects where an intervened agent is placed.
type LandingMode int

const (
	// DRAG_BACK returns the agent to the cell it was leaving.
	DRAG_BACK LandingMode = 1
	// NEAREST_MAX lands on a highest-probability cell of the 5x5 neighborhood.
	NEAREST_MAX LandingMode = 2
	// DIVERSIFY lands next to a highest-probability cell, on a cell of different probability.
	DIVERSIFY LandingMode = 3
	// NEAREST_MIN lands on a lowest-probability cell of the 5x5 neighborhood.
	NEAREST_MIN LandingMode = 4
)

// LandingModes lists every mode in tag order.
var LandingModes = []LandingMode{DRAG_BACK, NEAREST_MAX, DIVERSIFY, NEAREST_MIN}

func (m LandingMode) Valid() bool {
	return m >= DRAG_BACK && m <= NEAREST_MIN
}

func (m LandingMode) String() string {
	switch m {
	case DRAG_BACK:
		return "drag-back"
	case NEAREST_MAX:
		return "nearest-max"
	case DIVERSIFY:
		return "diversify"
	case NEAREST_MIN:
		return "nearest-min"
	}
	return fmt.Sprintf("LandingMode(%d)", int(m))
}

// Hyper-parameter defaults.
const (
	DEFAULT_ALPHA                 = 0.1
	DEFAULT_GAMMA                 = 0.9
	DEFAULT_EPSILON               = 0.3
	DEFAULT_INTERVENTION_RATE     = 0.2
	DEFAULT_POINT_VALUE           = 6.0
	DEFAULT_STEP_COST             = -1.0
	DEFAULT_MOVE_TIME             = 0.2
	DEFAULT_INTERVENTION_FEEDBACK = -12.0
	DEFAULT_MAX_STEPS             = 1000

	// Every admissible action starts at this value, so untried moves look attractive.
	INITIAL_Q_VALUE = 1.0
)

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// AgentConfig holds everything needed to construct an Agent apart from its world
// and random source.
type AgentConfig struct {
	ID       int `yaml:"id"`
	MaxSteps int `yaml:"maxSteps"`
	// HyperParams is a key-val list; see Params for the recognized keys.
	HyperParams      []HyperParameter `yaml:"hyperParams,omitempty"`
	InterventionType InterventionType `yaml:"interventionType"`
	InterventionMode LandingMode      `yaml:"interventionMode"`
	// InterventionStopStep disables interventions once reached. Zero means MaxSteps.
	InterventionStopStep int `yaml:"interventionStopStep"`
	// InitialPosition fixes the start cell; nil starts on a uniformly random cell.
	InitialPosition *grid_world.Cell `yaml:"initialPosition,omitempty"`
}

// DefaultAgentConfig returns a RESET, drag-back agent with default hyper-parameters.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxSteps:         DEFAULT_MAX_STEPS,
		InterventionType: RESET,
		InterventionMode: DRAG_BACK,
	}
}

// UnmarshalYAML decodes onto DefaultAgentConfig, so omitted keys keep their defaults.
func (cfg *AgentConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AgentConfig
	decoded := plain(DefaultAgentConfig())
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*cfg = AgentConfig(decoded)
	return nil
}

func (cfg *AgentConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// SetHyperParam overwrites param if present, appending it otherwise.
func (cfg *AgentConfig) SetHyperParam(param string, val float64) {
	for i := range cfg.HyperParams {
		if cfg.HyperParams[i].Key == param {
			cfg.HyperParams[i].Val = val
			return
		}
	}
	cfg.HyperParams = append(cfg.HyperParams, HyperParameter{Key: param, Val: val})
}

// Params are the resolved numeric hyper-parameters of an agent.
type Params struct {
	Alpha                float64
	Gamma                float64
	Epsilon              float64
	InterventionRate     float64
	PointValue           float64
	StepCost             float64
	MoveTime             float64
	InterventionFeedback float64
}

// Params resolves the hyper-parameter list against the defaults.
func (cfg *AgentConfig) Params() Params {
	return Params{
		Alpha:                cfg.GetHyperParamOrDefault("alpha", DEFAULT_ALPHA),
		Gamma:                cfg.GetHyperParamOrDefault("gamma", DEFAULT_GAMMA),
		Epsilon:              cfg.GetHyperParamOrDefault("epsilon", DEFAULT_EPSILON),
		InterventionRate:     cfg.GetHyperParamOrDefault("interventionRate", DEFAULT_INTERVENTION_RATE),
		PointValue:           cfg.GetHyperParamOrDefault("pointValue", DEFAULT_POINT_VALUE),
		StepCost:             cfg.GetHyperParamOrDefault("stepCost", DEFAULT_STEP_COST),
		MoveTime:             cfg.GetHyperParamOrDefault("moveTime", DEFAULT_MOVE_TIME),
		InterventionFeedback: cfg.GetHyperParamOrDefault("interventionFeedback", DEFAULT_INTERVENTION_FEEDBACK),
	}
}

// Validate checks ranges. Failures wrap ErrInvalidConfig or ErrUnknownInterventionType.
func (cfg *AgentConfig) Validate() error {
	if cfg.MaxSteps <= 0 {
		return fmt.Errorf("%w: maxSteps must be positive, got %d", ErrInvalidConfig, cfg.MaxSteps)
	}
	if cfg.InterventionStopStep < 0 {
		return fmt.Errorf("%w: interventionStopStep must be non-negative", ErrInvalidConfig)
	}
	if !cfg.InterventionType.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownInterventionType, int(cfg.InterventionType))
	}
	if !cfg.InterventionMode.Valid() {
		return fmt.Errorf("%w: intervention mode must be 1-4, got %d", ErrInvalidConfig, int(cfg.InterventionMode))
	}

	p := cfg.Params()
	unit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidConfig, name, v)
		}
		return nil
	}
	for _, err := range []error{
		unit("alpha", p.Alpha),
		unit("gamma", p.Gamma),
		unit("epsilon", p.Epsilon),
		unit("interventionRate", p.InterventionRate),
	} {
		if err != nil {
			return err
		}
	}
	if p.MoveTime <= 0 {
		return fmt.Errorf("%w: moveTime must be positive, got %v", ErrInvalidConfig, p.MoveTime)
	}
	return nil
}
