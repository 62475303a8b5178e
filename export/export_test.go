package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forager/grid_world"
	"forager/simulation"

	"github.com/klauspost/compress/zstd"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleResults() *simulation.Results {
	return &simulation.Results{
		AgentIDs: []int{0, 3},
		Eval: []simulation.EvalRow{
			{AgentID: 0, Step: 1, SimTime: 0.3, ExpectedQ: 0.25, CumulativeReward: 0},
			{AgentID: 0, Step: 2, SimTime: 0.6, ExpectedQ: 0.5, CumulativeReward: 6},
			{AgentID: 3, Step: 1, SimTime: 0.3, ExpectedQ: 1, CumulativeReward: -0.5},
		},
		Visits: []simulation.VisitRow{
			{Cell: grid_world.Cell{X: 0, Y: 1}, Visits: []int{2, 0}},
			{Cell: grid_world.Cell{X: 4, Y: 2}, Visits: []int{0, 1}},
		},
		Interventions: []int{0, 0},
		SimTime:       0.6,
		WallTime:      1500 * time.Millisecond,
		StopReason:    simulation.COMPLETED,
	}
}

func TestCSV(t *testing.T) {
	Convey("When formatting floats", t, func() {
		So(FormatFloat(1), ShouldEqual, "1.0")
		So(FormatFloat(-3), ShouldEqual, "-3.0")
		So(FormatFloat(0.25), ShouldEqual, "0.25")
		So(FormatFloat(0.1+0.2), ShouldEqual, "0.30000000000000004")
	})

	Convey("When writing eval rows", t, func() {
		var buf bytes.Buffer
		So(WriteEval(&buf, sampleResults(), false), ShouldBeNil)
		So(buf.String(), ShouldEqual, strings.Join([]string{
			"agentid,step,ExpectedQvalue,CumulativeReward",
			"0,1,0.25,0.0",
			"0,2,0.5,6.0",
			"3,1,1.0,-0.5",
			"",
		}, "\n"))

		Convey("The sim time column is optional", func() {
			buf.Reset()
			So(WriteEval(&buf, sampleResults(), true), ShouldBeNil)
			lines := strings.Split(buf.String(), "\n")
			So(lines[0], ShouldEqual, "agentid,step,sim_time,ExpectedQvalue,CumulativeReward")
			So(lines[2], ShouldEqual, "0,2,0.6,0.5,6.0")
		})
	})

	Convey("When writing visit statistics", t, func() {
		var buf bytes.Buffer
		So(WriteVisits(&buf, sampleResults()), ShouldBeNil)
		So(buf.String(), ShouldEqual, "grid_x,grid_y,agent_0,agent_3\n0,1,2,0\n4,2,0,1\n")
	})
}

func TestCSVSink(t *testing.T) {
	Convey("Given a CSV sink", t, func() {
		run := Run{ID: "abc", Condition: "world2_size_8/type_1_rate_0.5_mode_3", Index: 4}

		Convey("Plain files land in the condition directory", func() {
			sink := &CSVSink{Root: t.TempDir()}
			So(sink.Save(run, sampleResults()), ShouldBeNil)

			path := filepath.Join(sink.Root, "world2_size_8", "type_1_rate_0.5_mode_3", "run_4.csv")
			So(sink.Path(run, "run_4.csv"), ShouldEqual, path)
			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(strings.HasPrefix(string(data), "agentid,step,ExpectedQvalue"), ShouldBeTrue)

			_, err = os.Stat(sink.Path(run, "visit_stats_4.csv"))
			So(err, ShouldBeNil)
		})

		Convey("Compressed files decode to the same content", func() {
			sink := &CSVSink{Root: t.TempDir(), Compress: true}
			So(sink.Save(run, sampleResults()), ShouldBeNil)

			path := sink.Path(run, "visit_stats_4.csv")
			So(strings.HasSuffix(path, ".csv.zst"), ShouldBeTrue)
			f, err := os.Open(path)
			So(err, ShouldBeNil)
			defer f.Close()
			dec, err := zstd.NewReader(f)
			So(err, ShouldBeNil)
			defer dec.Close()
			data, err := io.ReadAll(dec)
			So(err, ShouldBeNil)

			var want bytes.Buffer
			So(WriteVisits(&want, sampleResults()), ShouldBeNil)
			So(string(data), ShouldEqual, want.String())
		})
	})
}

func TestConfigDump(t *testing.T) {
	Convey("A dumped config loads back unchanged", t, func() {
		cfg := simulation.DefaultConfig()
		cfg.Seed = 12
		cfg.World.Mode = grid_world.SCATTERED
		cfg.Agents[1].InitialPosition = &grid_world.Cell{X: 2, Y: 5}
		cfg.Agents[1].SetHyperParam("interventionRate", 0.75)
		cfg.Agents[1].InterventionStopStep = 500

		path := filepath.Join(t.TempDir(), "sweep", "config.yaml")
		So(WriteConfigFile(path, cfg), ShouldBeNil)
		loaded, err := simulation.FromYaml(path)
		So(err, ShouldBeNil)
		So(loaded, ShouldResemble, cfg)
	})
}

func TestStore(t *testing.T) {
	Convey("Given a results store", t, func() {
		store, err := OpenStore(filepath.Join(t.TempDir(), "results.db"))
		So(err, ShouldBeNil)
		defer store.Close()

		condition := "world3_size_10/type_5_rate_1.0_mode_2"
		So(store.Save(Run{ID: "r1", Condition: condition, Index: 0, Seed: 10}, sampleResults()), ShouldBeNil)

		Convey("Runs and eval rows read back", func() {
			runs, err := store.Runs(condition)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 1)
			So(runs[0].ID, ShouldEqual, "r1")
			So(runs[0].StopReason, ShouldEqual, "completed")
			So(runs[0].WallTimeMs, ShouldEqual, 1500)

			history, err := store.EvalHistory("r1")
			So(err, ShouldBeNil)
			So(history, ShouldResemble, sampleResults().Eval)
		})

		Convey("The mean final value averages each agent's last step", func() {
			mean, err := store.MeanFinalExpectedQ(condition)
			So(err, ShouldBeNil)
			So(mean, ShouldAlmostEqual, 0.75, 1e-12)
		})

		Convey("A duplicate run id is rejected", func() {
			So(store.Save(Run{ID: "r1", Condition: condition}, sampleResults()), ShouldNotBeNil)
		})

		Convey("It serves as a sink alongside CSV files", func() {
			var sink Sink = Multi{&CSVSink{Root: t.TempDir()}, store}
			So(sink.Save(Run{ID: "r2", Condition: condition, Index: 1}, sampleResults()), ShouldBeNil)
			runs, err := store.Runs(condition)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 2)
		})
	})
}
