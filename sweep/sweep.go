/*
Package sweep runs an experiment: the simulations of every condition of a Plan,
spread over a pool of workers and streamed into an export.Sink.

The pipeline is a producer of jobs, N simulation workers each returning its own
channel of outcomes, and a single writer reading the workers' channels fanned in
with channerics.Merge. Only the writer touches the sink. A failed save or a
cancelled context stops the whole pipeline through the errgroup's context.
*/
package sweep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"forager/atomic_float"
	"forager/export"
	"forager/simulation"

	"github.com/google/uuid"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

// Job is one run of one condition.
type Job struct {
	Run       export.Run
	Condition Condition
	Config    *simulation.Config
}

type outcome struct {
	job     *Job
	results *simulation.Results
	err     error
}

// Summary aggregates a sweep. The workers update it concurrently.
type Summary struct {
	Saved  atomic.Int64
	Failed atomic.Int64
	// FinalExpectedQ averages every agent's last expected Q value over all runs.
	FinalExpectedQ atomic_float.Mean
	TotalSimTime   atomic_float.Float64
	LongestRun     atomic_float.Float64
}

func (summary *Summary) observe(results *simulation.Results) {
	summary.TotalSimTime.Add(results.SimTime)
	summary.LongestRun.Max(results.WallTime.Seconds())
	last := map[int]float64{}
	for _, row := range results.Eval {
		last[row.AgentID] = row.ExpectedQ
	}
	for _, q := range last {
		summary.FinalExpectedQ.Observe(q)
	}
}

type Sweeper struct {
	Plan    Plan
	Sink    export.Sink
	Workers int
	// ConfigRoot, if set, receives each run's config as <condition>/config_<n>.yaml.
	ConfigRoot string
	Logger     *slog.Logger
	// OnSaved is called by the writer after every saved run.
	OnSaved func(job *Job, results *simulation.Results)

	summary Summary
}

func (sweeper *Sweeper) Summary() *Summary {
	return &sweeper.summary
}

// Jobs enumerates every run of the plan, run index innermost.
func (plan *Plan) Jobs() (jobs []*Job) {
	for _, cond := range plan.Conditions() {
		for run := 0; run < plan.Runs; run++ {
			cfg := plan.Config(cond, run)
			jobs = append(jobs, &Job{
				Run: export.Run{
					ID:        uuid.NewString(),
					Condition: cond.Dir(),
					Index:     run,
					Seed:      cfg.Seed,
				},
				Condition: cond,
				Config:    cfg,
			})
		}
	}
	return
}

// Run executes the sweep until every job is saved, a save fails, or ctx ends.
func (sweeper *Sweeper) Run(ctx context.Context) error {
	if err := sweeper.Plan.Validate(); err != nil {
		return err
	}
	logger := sweeper.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nworkers := sweeper.Workers
	if nworkers <= 0 {
		nworkers = runtime.NumCPU()
	}

	allJobs := sweeper.Plan.Jobs()
	logger.Info("starting sweep",
		"conditions", len(allJobs)/sweeper.Plan.Runs,
		"runs", len(allJobs),
		"workers", nworkers)
	started := time.Now()

	group, groupCtx := errgroup.WithContext(ctx)
	done := groupCtx.Done()

	jobs := make(chan *Job)
	group.Go(func() error {
		defer close(jobs)
		for _, job := range allJobs {
			select {
			case jobs <- job:
			case <-done:
				return nil
			}
		}
		return nil
	})

	// Simulations log nothing on their own; the writer logs one line per run.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := func() <-chan *outcome {
		outcomes := make(chan *outcome)
		go func() {
			defer close(outcomes)
			for job := range jobs {
				out := &outcome{job: job}
				sim, err := simulation.New(job.Config, quiet)
				if err == nil {
					out.results, out.err = sim.Run(groupCtx, nil)
				} else {
					out.err = err
				}
				if out.results != nil && out.results.StopReason == simulation.COMPLETED {
					sweeper.summary.observe(out.results)
				}

				select {
				case outcomes <- out:
				case <-done:
					return
				}
			}
		}()
		return outcomes
	}

	workers := []<-chan *outcome{}
	for i := 0; i < nworkers; i++ {
		workers = append(workers, worker())
	}
	outcomes := channerics.Merge(done, workers...)

	group.Go(func() error {
		for out := range outcomes {
			if err := sweeper.write(out, logger); err != nil {
				return err
			}
		}
		return nil
	})

	err := group.Wait()
	if err == nil {
		err = ctx.Err()
	}
	logger.Info("sweep finished",
		"saved", sweeper.summary.Saved.Load(),
		"failed", sweeper.summary.Failed.Load(),
		"mean_final_expected_q", fmt.Sprintf("%.3f", sweeper.summary.FinalExpectedQ.Value()),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return err
}

func (sweeper *Sweeper) write(out *outcome, logger *slog.Logger) error {
	job := out.job
	runLogger := logger.With("condition", job.Run.Condition, "run", job.Run.Index)
	if out.results == nil {
		sweeper.summary.Failed.Add(1)
		runLogger.Error("run failed", "err", out.err)
		return nil
	}
	if out.results.StopReason != simulation.COMPLETED {
		// Interrupted by cancellation; partial runs are not saved.
		return nil
	}
	if out.err != nil {
		runLogger.Warn("policy evaluation incomplete", "err", out.err)
	}

	if err := sweeper.Sink.Save(job.Run, out.results); err != nil {
		return fmt.Errorf("saving %s run %d: %w", job.Run.Condition, job.Run.Index, err)
	}
	if sweeper.ConfigRoot != "" {
		path := filepath.Join(sweeper.ConfigRoot, filepath.FromSlash(job.Run.Condition),
			fmt.Sprintf("config_%d.yaml", job.Run.Index))
		if err := export.WriteConfigFile(path, job.Config); err != nil {
			return err
		}
	}
	sweeper.summary.Saved.Add(1)
	runLogger.Info("run saved",
		"id", job.Run.ID,
		"sim_time", out.results.SimTime,
		"wall_time", out.results.WallTime.Round(time.Millisecond))
	if sweeper.OnSaved != nil {
		sweeper.OnSaved(job, out.results)
	}
	return nil
}
