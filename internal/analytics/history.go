package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Run is one recorded row of the history table.
type Run struct {
	ID          int64          `json:"id"`
	RunID       string         `json:"runId"`
	Feature     string         `json:"feature"`
	Phase       string         `json:"phase"`
	Success     bool           `json:"success"`
	CoveragePct float64        `json:"coveragePct"`
	RuntimeMs   int64          `json:"runtimeMs"`
	RecordedAt  string         `json:"recordedAt"`
	Details     map[string]any `json:"details"`
}

// FeatureSummary aggregates the history of one feature.
type FeatureSummary struct {
	Feature      string  `json:"feature"`
	Runs         int     `json:"runs"`
	Failures     int     `json:"failures"`
	LastCoverage float64 `json:"lastCoverage"`
}

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL DEFAULT '',
	feature      TEXT NOT NULL,
	phase        TEXT NOT NULL DEFAULT '',
	success      INTEGER NOT NULL,
	coverage_pct REAL NOT NULL,
	runtime_ms   INTEGER NOT NULL,
	recorded_at  TEXT NOT NULL,
	details      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_runs_feature ON runs(feature, id);
`

// History keeps run metrics in a local SQLite database.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the database at path.
func OpenHistory(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error { return h.db.Close() }

// Record implements Sink.
func (h *History) Record(ctx context.Context, p Payload) error {
	details, err := json.Marshal(p.Details)
	if err != nil {
		return fmt.Errorf("history: marshal details: %w", err)
	}
	runID, _ := p.Details["runId"].(string)
	success := 0
	if p.Success {
		success = 1
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, feature, phase, success, coverage_pct, runtime_ms, recorded_at, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.Feature, p.Phase, success, p.CoveragePct, p.RuntimeMs, p.Timestamp, string(details))
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty feature matches all.
func (h *History) Recent(ctx context.Context, feature string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, run_id, feature, phase, success, coverage_pct, runtime_ms, recorded_at, details
		 FROM runs WHERE (? = '' OR feature = ?) ORDER BY id DESC LIMIT ?`,
		feature, feature, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			details string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Feature, &r.Phase, &r.Success,
			&r.CoveragePct, &r.RuntimeMs, &r.RecordedAt, &details); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			r.Details = map[string]any{}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summaries aggregates runs per feature, ordered by feature.
func (h *History) Summaries(ctx context.Context) ([]FeatureSummary, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT r.feature, COUNT(*), SUM(CASE WHEN r.success = 0 THEN 1 ELSE 0 END),
		       (SELECT coverage_pct FROM runs l WHERE l.feature = r.feature ORDER BY l.id DESC LIMIT 1)
		FROM runs r GROUP BY r.feature ORDER BY r.feature`)
	if err != nil {
		return nil, fmt.Errorf("history: summarize: %w", err)
	}
	defer rows.Close()

	var out []FeatureSummary
	for rows.Next() {
		var s FeatureSummary
		if err := rows.Scan(&s.Feature, &s.Runs, &s.Failures, &s.LastCoverage); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
