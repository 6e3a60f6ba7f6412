package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	retriever   TEXT NOT NULL DEFAULT '',
	config_json TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	metric_name  TEXT NOT NULL,
	metric_value REAL NOT NULL,
	meta_json    TEXT,
	PRIMARY KEY (run_id, metric_name)
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_metrics_name ON metrics(metric_name);
`

// SQLiteStore keeps runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
//
// WAL mode and a busy timeout let several processes append concurrently.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection serializes writers within this process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return newSQLStore(db), nil
}

// newSQLStore wraps an already-initialized database.
func newSQLStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// AppendRun inserts the run and its metrics in one transaction.
func (s *SQLiteStore) AppendRun(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeds.
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, name, notes, retriever, config_json) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.CreatedAt), run.Name, run.Notes, run.Retriever, configString(run.Config),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", run.ID, ErrDuplicateRun)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, m := range run.Metrics {
		var meta any
		if len(m.Meta) > 0 {
			meta = string(m.Meta)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (run_id, metric_name, metric_value, meta_json) VALUES (?, ?, ?, ?)`,
			run.ID, m.Name, m.Value, meta,
		); err != nil {
			return fmt.Errorf("failed to insert metric %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RecentByMetric returns the newest runs carrying metric.
func (s *SQLiteStore) RecentByMetric(ctx context.Context, metric string, limit int) ([]HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.created_at, r.config_json, m.metric_value
		FROM runs r
		JOIN metrics m ON m.run_id = r.run_id
		WHERE m.metric_name = ?
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ?`, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			row     HistoryRow
			created string
		)
		if err := rows.Scan(&row.RunID, &created, &row.ConfigJSON, &row.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if row.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("run %s has invalid created_at: %w", row.RunID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListRuns returns the newest runs with their metrics.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, created_at, name, notes, retriever, config_json
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var runs []Run
	index := make(map[string]int)
	for rows.Next() {
		var (
			run     Run
			created string
			cfg     string
		)
		if err := rows.Scan(&run.ID, &created, &run.Name, &run.Notes, &run.Retriever, &cfg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if run.CreatedAt, err = parseTime(created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("run %s has invalid created_at: %w", run.ID, err)
		}
		run.Config = json.RawMessage(cfg)
		index[run.ID] = len(runs)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(runs) == 0 {
		return runs, nil
	}

	ids := make([]any, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	mrows, err := s.db.QueryContext(ctx,
		`SELECT run_id, metric_name, metric_value, meta_json FROM metrics WHERE run_id IN (`+placeholders+`) ORDER BY metric_name`,
		ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var (
			runID string
			m     Metric
			meta  sql.NullString
		)
		if err := mrows.Scan(&runID, &m.Name, &m.Value, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		if meta.Valid {
			m.Meta = json.RawMessage(meta.String)
		}
		i := index[runID]
		runs[i].Metrics = append(runs[i].Metrics, m)
	}
	return runs, mrows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}
