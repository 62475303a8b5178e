package export

import (
	"fmt"
	"time"

	"forager/simulation"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is a SQLite results store; one row per run plus its eval and visit rows.
type Store struct {
	conn *sqlx.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	store := &Store{conn: conn}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (store *Store) Close() error {
	return store.conn.Close()
}

func (store *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		condition TEXT NOT NULL,
		run_index INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		stop_reason TEXT NOT NULL,
		sim_time REAL NOT NULL,
		wall_time_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS eval_history (
		run_id TEXT NOT NULL REFERENCES runs(id),
		agent_id INTEGER NOT NULL,
		step INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		expected_q REAL NOT NULL,
		cumulative_reward REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS visits (
		run_id TEXT NOT NULL REFERENCES runs(id),
		grid_x INTEGER NOT NULL,
		grid_y INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		visits INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_condition ON runs(condition);
	CREATE INDEX IF NOT EXISTS idx_eval_run ON eval_history(run_id);
	CREATE INDEX IF NOT EXISTS idx_visits_run ON visits(run_id);
	`
	_, err := store.conn.Exec(schema)
	return err
}

// Save writes a run and all of its rows in one transaction.
func (store *Store) Save(run Run, results *simulation.Results) error {
	tx, err := store.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs
		(id, condition, run_index, seed, stop_reason, sim_time, wall_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Condition, run.Index, int64(run.Seed), string(results.StopReason),
		results.SimTime, results.WallTime.Milliseconds(), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	evalStmt, err := tx.Preparex(`INSERT INTO eval_history
		(run_id, agent_id, step, sim_time, expected_q, cumulative_reward)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evalStmt.Close()
	for _, row := range results.Eval {
		if _, err := evalStmt.Exec(run.ID, row.AgentID, row.Step, row.SimTime, row.ExpectedQ, row.CumulativeReward); err != nil {
			return fmt.Errorf("insert eval row: %w", err)
		}
	}

	visitStmt, err := tx.Preparex(`INSERT INTO visits
		(run_id, grid_x, grid_y, agent_id, visits)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer visitStmt.Close()
	for _, row := range results.Visits {
		for i, n := range row.Visits {
			if _, err := visitStmt.Exec(run.ID, row.Cell.X, row.Cell.Y, results.AgentIDs[i], n); err != nil {
				return fmt.Errorf("insert visit row: %w", err)
			}
		}
	}

	return tx.Commit()
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string  `db:"id"`
	Condition  string  `db:"condition"`
	Index      int     `db:"run_index"`
	Seed       int64   `db:"seed"`
	StopReason string  `db:"stop_reason"`
	SimTime    float64 `db:"sim_time"`
	WallTimeMs int64   `db:"wall_time_ms"`
}

// Runs lists the runs of a condition in index order.
func (store *Store) Runs(condition string) ([]RunRecord, error) {
	var runs []RunRecord
	err := store.conn.Select(&runs,
		`SELECT id, condition, run_index, seed, stop_reason, sim_time, wall_time_ms
		 FROM runs WHERE condition = ? ORDER BY run_index`,
		condition,
	)
	return runs, err
}

type evalRow struct {
	AgentID          int     `db:"agent_id"`
	Step             int     `db:"step"`
	SimTime          float64 `db:"sim_time"`
	ExpectedQ        float64 `db:"expected_q"`
	CumulativeReward float64 `db:"cumulative_reward"`
}

// EvalHistory returns the eval rows of a run, agent by agent.
func (store *Store) EvalHistory(runID string) ([]simulation.EvalRow, error) {
	var rows []evalRow
	if err := store.conn.Select(&rows,
		`SELECT agent_id, step, sim_time, expected_q, cumulative_reward
		 FROM eval_history WHERE run_id = ? ORDER BY rowid`,
		runID,
	); err != nil {
		return nil, err
	}
	history := make([]simulation.EvalRow, len(rows))
	for i, row := range rows {
		history[i] = simulation.EvalRow(row)
	}
	return history, nil
}

// MeanFinalExpectedQ averages, over the runs of a condition, every agent's last
// expected Q value.
func (store *Store) MeanFinalExpectedQ(condition string) (mean float64, err error) {
	err = store.conn.Get(&mean,
		`SELECT COALESCE(AVG(e.expected_q), 0) FROM eval_history e
		 JOIN runs r ON r.id = e.run_id
		 WHERE r.condition = ? AND e.step = (
			SELECT MAX(step) FROM eval_history
			WHERE run_id = e.run_id AND agent_id = e.agent_id)`,
		condition,
	)
	return
}
