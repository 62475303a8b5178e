package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"forager/simulation"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// Run identifies one simulation of a sweep.
type Run struct {
	ID string
	// Condition is the slash-separated directory of the run's parameter
	// combination, e.g. world2_size_8/type_1_rate_0.5_mode_3.
	Condition string
	Index     int
	Seed      uint64
}

// Sink receives finished runs. Save is called from a single goroutine.
type Sink interface {
	Save(run Run, results *simulation.Results) error
	Close() error
}

// CSVSink writes run_<n>.csv and visit_stats_<n>.csv under Root/<condition>/.
type CSVSink struct {
	Root string
	// Compress appends .zst and zstd-encodes both files.
	Compress bool
	// WithSimTime adds the sim_time column to the run file.
	WithSimTime bool
}

func (sink *CSVSink) Save(run Run, results *simulation.Results) error {
	dir := filepath.Join(sink.Root, filepath.FromSlash(run.Condition))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	evalPath := sink.Path(run, fmt.Sprintf("run_%d.csv", run.Index))
	if err := sink.writeFile(evalPath, func(w io.Writer) error {
		return WriteEval(w, results, sink.WithSimTime)
	}); err != nil {
		return fmt.Errorf("writing %s: %w", evalPath, err)
	}

	visitPath := sink.Path(run, fmt.Sprintf("visit_stats_%d.csv", run.Index))
	if err := sink.writeFile(visitPath, func(w io.Writer) error {
		return WriteVisits(w, results)
	}); err != nil {
		return fmt.Errorf("writing %s: %w", visitPath, err)
	}
	return nil
}

func (sink *CSVSink) Close() error { return nil }

// Path returns the file name Save uses for base, which is compressed if the sink is.
func (sink *CSVSink) Path(run Run, base string) string {
	if sink.Compress {
		base += ".zst"
	}
	return filepath.Join(sink.Root, filepath.FromSlash(run.Condition), base)
}

func (sink *CSVSink) writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	if !sink.Compress {
		w := bufio.NewWriter(f)
		if err = write(w); err != nil {
			return err
		}
		return w.Flush()
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	if err = write(enc); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Multi fans every run out to each of its sinks, stopping at the first failure.
type Multi []Sink

func (sinks Multi) Save(run Run, results *simulation.Results) error {
	for _, sink := range sinks {
		if err := sink.Save(run, results); err != nil {
			return err
		}
	}
	return nil
}

func (sinks Multi) Close() (err error) {
	for _, sink := range sinks {
		if closeErr := sink.Close(); err == nil {
			err = closeErr
		}
	}
	return
}

// WriteConfig dumps cfg in the {kind, def} envelope read by simulation.FromYaml.
func WriteConfig(w io.Writer, cfg *simulation.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := struct {
		Kind string             `yaml:"kind"`
		Def  *simulation.Config `yaml:"def"`
	}{
		Kind: simulation.KIND,
		Def:  cfg,
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// WriteConfigFile writes cfg next to a sweep's results.
func WriteConfigFile(path string, cfg *simulation.Config) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return WriteConfig(f, cfg)
}
