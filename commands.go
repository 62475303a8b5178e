package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"forager/export"
	"forager/grid_world"
	"forager/reinforcement"
	"forager/server"
	"forager/simulation"
	"forager/sweep"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Env var overriding the server's data folder.
const DATA_DIR_ENV = "FORAGER_DATA_DIR"

type sinkFlags struct {
	out         string
	compress    bool
	withSimTime bool
	db          string
}

func (flags *sinkFlags) register(cmd *cobra.Command, defaultOut string) {
	cmd.Flags().StringVar(&flags.out, "out", defaultOut, "output folder of the csv results")
	cmd.Flags().BoolVar(&flags.compress, "compress", false, "zstd-compress the csv results")
	cmd.Flags().BoolVar(&flags.withSimTime, "sim-time", false, "add the sim_time column to the run files")
	cmd.Flags().StringVar(&flags.db, "db", "", "also store the results in this sqlite file")
}

func (flags *sinkFlags) open() (export.Sink, error) {
	csvSink := &export.CSVSink{
		Root:        flags.out,
		Compress:    flags.compress,
		WithSimTime: flags.withSimTime,
	}
	if flags.db == "" {
		return csvSink, nil
	}
	store, err := export.OpenStore(flags.db)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", flags.db, err)
	}
	return export.Multi{csvSink, store}, nil
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		index      int
		show       bool
		sinks      sinkFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation and export its learning curves and visit statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := simulation.FromYaml(configPath)
			if err != nil {
				return err
			}
			sim, err := simulation.New(cfg, slog.Default())
			if err != nil {
				return err
			}

			results, evalErr := sim.Run(cmd.Context(), nil)
			if results == nil {
				return evalErr
			}
			if evalErr != nil {
				slog.Warn("policy evaluation incomplete", "err", evalErr)
			}
			if show {
				showConsoleViews(cmd.OutOrStdout(), sim)
			}

			sink, err := sinks.open()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := sink.Close(); err == nil {
					err = closeErr
				}
			}()

			run := export.Run{ID: uuid.NewString(), Index: index, Seed: cfg.Seed}
			if err = sink.Save(run, results); err != nil {
				return err
			}
			if err = export.WriteConfigFile(filepath.Join(sinks.out, fmt.Sprintf("config_%d.yaml", index)), cfg); err != nil {
				return err
			}
			slog.Info("results saved",
				"out", sinks.out,
				"run_id", run.ID,
				"reason", results.StopReason,
				"interventions", results.Interventions)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "simulation config file")
	cmd.Flags().IntVar(&index, "index", 0, "run index used in the output file names")
	cmd.Flags().BoolVar(&show, "show", false, "print the world and the learned policies when done")
	sinks.register(cmd, "results")
	return cmd
}

// showConsoleViews prints the world and each agent's learned policy and values.
func showConsoleViews(w io.Writer, sim *simulation.Simulation) {
	world := sim.World()
	world.ShowProbabilities(w)
	world.ShowGrid(w)
	for _, agent := range sim.Agents() {
		fmt.Fprintf(w, "Agent %d policy:\n", agent.ID())
		world.ShowPolicy(w, agent.Table())
		fmt.Fprintf(w, "Agent %d max values:\n", agent.ID())
		agent.Table().ShowMaxValues(w)
	}
}

func newSweepCmd() *cobra.Command {
	plan := sweep.DefaultPlan()
	var (
		worldModes   []int
		types        []string
		rates        []string
		landingModes []int
		workers      int
		saveConfigs  bool
		sinks        sinkFlags
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every condition of the intervention experiment",
		Long: `Runs sizes x world modes x intervention types x rates x landing modes, each
condition repeated --runs times with two identical agents. Every axis can be narrowed
by its flag. Results are laid out as
<out>/world<mode>_size_<size>/type_<t>_rate_<r>_mode_<m>/run_<n>.csv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if cmd.Flags().Changed("world-modes") {
				plan.WorldModes = nil
				for _, mode := range worldModes {
					plan.WorldModes = append(plan.WorldModes, grid_world.SpawnMode(mode))
				}
			}
			if cmd.Flags().Changed("types") {
				plan.Types = nil
				for _, name := range types {
					t, parseErr := reinforcement.ParseInterventionType(name)
					if parseErr != nil {
						return parseErr
					}
					plan.Types = append(plan.Types, t)
				}
			}
			if cmd.Flags().Changed("rates") {
				plan.Rates = nil
				for _, val := range rates {
					rate, parseErr := strconv.ParseFloat(val, 64)
					if parseErr != nil {
						return fmt.Errorf("rate %q: %w", val, parseErr)
					}
					plan.Rates = append(plan.Rates, rate)
				}
			}
			if cmd.Flags().Changed("landing-modes") {
				plan.LandingModes = nil
				for _, mode := range landingModes {
					plan.LandingModes = append(plan.LandingModes, reinforcement.LandingMode(mode))
				}
			}

			sink, err := sinks.open()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := sink.Close(); err == nil {
					err = closeErr
				}
			}()

			sweeper := &sweep.Sweeper{
				Plan:    plan,
				Sink:    sink,
				Workers: workers,
				Logger:  slog.Default(),
			}
			if saveConfigs {
				sweeper.ConfigRoot = sinks.out
			}
			return sweeper.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.IntSliceVar(&plan.Sizes, "sizes", plan.Sizes, "grid sizes")
	flags.IntSliceVar(&worldModes, "world-modes", []int{2, 3}, "spawn modes: 2 scattered, 3 clustered")
	flags.StringSliceVar(&types, "types", nil, "intervention types by name or tag (default all)")
	flags.StringSliceVar(&rates, "rates", []string{"0.25", "0.5", "0.75", "1.0"}, "intervention rates")
	flags.IntSliceVar(&landingModes, "landing-modes", []int{1, 2, 3, 4}, "landing modes")
	flags.IntVar(&plan.Runs, "runs", plan.Runs, "runs per condition")
	flags.IntVar(&plan.StopFromRun, "stop-from", plan.StopFromRun, "first run index whose interventions stop early; -1 is half the runs")
	flags.IntVar(&plan.StopStep, "stop-step", plan.StopStep, "step at which early-stopping runs stop interventions")
	flags.IntVar(&plan.MaxSteps, "max-steps", plan.MaxSteps, "steps per agent")
	flags.Uint64Var(&plan.Seed, "seed", plan.Seed, "seed of run 0; run n uses seed+n")
	flags.IntVar(&workers, "workers", runtime.NumCPU(), "concurrent simulations")
	flags.BoolVar(&saveConfigs, "save-configs", false, "write each run's config next to its results")
	sinks.register(cmd, "exp1")
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dataDir    string
		simulate   bool
		configPath string
		every      int
		tickDelay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the data-persistence endpoint and, optionally, a live simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("data-dir") {
				if envDir := os.Getenv(DATA_DIR_ENV); envDir != "" {
					dataDir = envDir
				}
			}
			cfg := server.Config{Addr: addr, DataDir: dataDir}
			if !simulate {
				srv, err := server.NewServer(cfg, nil, slog.Default())
				if err != nil {
					return err
				}
				return srv.Serve(cmd.Context())
			}
			return serveSimulation(cmd.Context(), cfg, configPath, every, tickDelay)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8123", "listen address")
	cmd.Flags().StringVar(&dataDir, "data-dir", "participantData", "folder of the <workerId>.jsonl files; overrides "+DATA_DIR_ENV)
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run a simulation and show it at /live")
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "simulation config file, with --simulate")
	cmd.Flags().IntVar(&every, "every", 2, "ticks between live view updates")
	cmd.Flags().DurationVar(&tickDelay, "tick-delay", time.Millisecond*100, "wall time per simulation tick, so the live view can be followed")
	return cmd
}

// serveSimulation runs a simulation in the background of the server, feeding the
// live view. The server keeps serving after the simulation ends, until ctx does.
func serveSimulation(
	ctx context.Context,
	cfg server.Config,
	configPath string,
	every int,
	tickDelay time.Duration,
) error {
	simCfg, err := simulation.FromYaml(configPath)
	if err != nil {
		return err
	}
	sim, err := simulation.New(simCfg, slog.Default())
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	feed, snapshots, closeFeed := server.SnapshotFeed(sim, every)
	live, err := server.NewLiveView(groupCtx, sim.Snapshot(), snapshots)
	if err != nil {
		closeFeed()
		return err
	}
	srv, err := server.NewServer(cfg, live, slog.Default())
	if err != nil {
		closeFeed()
		return err
	}

	group.Go(func() error {
		return srv.Serve(groupCtx)
	})
	group.Go(func() error {
		defer closeFeed()
		results, err := sim.Run(groupCtx, func(ctx context.Context, tick int) {
			feed(ctx, tick)
			if tickDelay <= 0 {
				return
			}
			select {
			case <-time.After(tickDelay):
			case <-ctx.Done():
			}
		})
		if results == nil {
			return err
		}
		if err != nil {
			slog.Warn("policy evaluation incomplete", "err", err)
		}
		slog.Info("live simulation done", "reason", results.StopReason, "interventions", results.Interventions)
		return nil
	})

	if err = group.Wait(); errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
