package reinforcement

import (
	"errors"
	"testing"

	"forager/grid_world"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func TestAgentConfig(t *testing.T) {
	Convey("When parsing intervention types", t, func() {
		for _, kind := range InterventionTypes {
			byName, err := ParseInterventionType(kind.String())
			So(err, ShouldBeNil)
			So(byName, ShouldEqual, kind)
		}
		kind, err := ParseInterventionType("IMPEDE")
		So(err, ShouldBeNil)
		So(kind, ShouldEqual, IMPEDE)

		kind, err = ParseInterventionType("2")
		So(err, ShouldBeNil)
		So(kind, ShouldEqual, INTERRUPT)

		_, err = ParseInterventionType("6")
		So(errors.Is(err, ErrUnknownInterventionType), ShouldBeTrue)
		_, err = ParseInterventionType("nudge")
		So(errors.Is(err, ErrUnknownInterventionType), ShouldBeTrue)
	})

	Convey("When decoding yaml", t, func() {
		Convey("Types may be named or numbered", func() {
			doc := `
id: 2
maxSteps: 300
interventionType: disrupt
interventionMode: 3
interventionStopStep: 150
initialPosition: {x: 1, y: 4}
hyperParams:
  - key: epsilon
    val: 0.05
  - key: interventionFeedback
    val: -6
`
			var cfg AgentConfig
			So(yaml.Unmarshal([]byte(doc), &cfg), ShouldBeNil)
			So(cfg.ID, ShouldEqual, 2)
			So(cfg.MaxSteps, ShouldEqual, 300)
			So(cfg.InterventionType, ShouldEqual, DISRUPT)
			So(cfg.InterventionMode, ShouldEqual, DIVERSIFY)
			So(cfg.InterventionStopStep, ShouldEqual, 150)
			So(*cfg.InitialPosition, ShouldResemble, grid_world.Cell{X: 1, Y: 4})
			So(cfg.Validate(), ShouldBeNil)

			params := cfg.Params()
			So(params.Epsilon, ShouldEqual, 0.05)
			So(params.InterventionFeedback, ShouldEqual, -6.0)
			So(params.Alpha, ShouldEqual, DEFAULT_ALPHA)
			So(params.MoveTime, ShouldEqual, DEFAULT_MOVE_TIME)

			var numbered AgentConfig
			So(yaml.Unmarshal([]byte("interventionType: 5"), &numbered), ShouldBeNil)
			So(numbered.InterventionType, ShouldEqual, IMPEDE)
		})

		Convey("Unknown types are rejected", func() {
			var cfg AgentConfig
			err := yaml.Unmarshal([]byte("interventionType: shove"), &cfg)
			So(errors.Is(err, ErrUnknownInterventionType), ShouldBeTrue)
		})

		Convey("Types encode by name", func() {
			out, err := yaml.Marshal(map[string]InterventionType{"kind": TRANSITION})
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, "kind: transition\n")
		})
	})

	Convey("When validating", t, func() {
		cfg := DefaultAgentConfig()
		So(cfg.Validate(), ShouldBeNil)

		Convey("The step budget must be positive", func() {
			cfg.MaxSteps = 0
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Probabilities must be in [0,1]", func() {
			cfg.SetHyperParam("epsilon", 1.5)
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Move time must be positive", func() {
			cfg.SetHyperParam("moveTime", 0)
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Landing modes are 1-4", func() {
			cfg.InterventionMode = 5
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Types are 0-5", func() {
			cfg.InterventionType = 6
			So(errors.Is(cfg.Validate(), ErrUnknownInterventionType), ShouldBeTrue)
		})

		Convey("Setting a hyper parameter twice keeps the last value", func() {
			cfg.SetHyperParam("gamma", 0.5)
			cfg.SetHyperParam("gamma", 0.7)
			So(len(cfg.HyperParams), ShouldEqual, 1)
			So(cfg.Params().Gamma, ShouldEqual, 0.7)
		})
	})
}
