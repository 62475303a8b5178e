/*
Package export writes simulation results out of process: per-run CSV files laid out
in condition directories, optionally zstd-compressed, and a SQLite results store.
Both implement Sink so that a sweep can stream into either.

The CSV files keep the column names of the analysis scripts that consume them:

	run_<n>.csv          agentid,step,ExpectedQvalue,CumulativeReward
	visit_stats_<n>.csv  grid_x,grid_y,agent_<id>...
*/
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"forager/simulation"
)

var (
	EVAL_HEADER  = []string{"agentid", "step", "ExpectedQvalue", "CumulativeReward"}
	VISIT_PREFIX = []string{"grid_x", "grid_y"}
)

// FormatFloat prints integral values with a trailing ".0" and everything else in
// the shortest form that round-trips, e.g. 1.0, 0.25, -3.0.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		s += ".0"
	}
	return s
}

// WriteEval writes the learning curves of every agent, agent by agent.
// withSimTime inserts a sim_time column after step.
func WriteEval(w io.Writer, results *simulation.Results, withSimTime bool) error {
	cw := csv.NewWriter(w)
	header := EVAL_HEADER
	if withSimTime {
		header = []string{EVAL_HEADER[0], EVAL_HEADER[1], "sim_time", EVAL_HEADER[2], EVAL_HEADER[3]}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, 0, len(header))
	for _, row := range results.Eval {
		record = append(record[:0], strconv.Itoa(row.AgentID), strconv.Itoa(row.Step))
		if withSimTime {
			record = append(record, FormatFloat(row.SimTime))
		}
		record = append(record, FormatFloat(row.ExpectedQ), FormatFloat(row.CumulativeReward))
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteVisits writes one row per spawn cell with a visit-count column per agent.
func WriteVisits(w io.Writer, results *simulation.Results) error {
	cw := csv.NewWriter(w)
	header := append([]string(nil), VISIT_PREFIX...)
	for _, id := range results.AgentIDs {
		header = append(header, fmt.Sprintf("agent_%d", id))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, 0, len(header))
	for _, row := range results.Visits {
		record = append(record[:0], strconv.Itoa(row.Cell.X), strconv.Itoa(row.Cell.Y))
		for _, n := range row.Visits {
			record = append(record, strconv.Itoa(n))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
