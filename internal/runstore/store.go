// Package runstore persists benchmark runs and their aggregated metrics.
//
// Runs are append-only. A run and all of its metrics are written in one
// atomic unit, so readers never observe a run without its metrics.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateRun is returned when a run id is already stored.
	ErrDuplicateRun = errors.New("run already exists")

	// ErrUnknownProvider is returned by Open for an unsupported backend.
	ErrUnknownProvider = errors.New("unknown store provider")
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Metric is one named aggregate value of a run.
type Metric struct {
	Name  string          `json:"name"`
	Value float64         `json:"value"`
	Meta  json.RawMessage `json:"meta,omitempty"`
}

// Run is an immutable record of one benchmark execution for one retriever.
type Run struct {
	ID        string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Name      string          `json:"name"`
	Notes     string          `json:"notes,omitempty"`
	Retriever string          `json:"retriever"`
	Config    json.RawMessage `json:"config"`
	Metrics   []Metric        `json:"metrics"`
}

// Metric returns the value of the named metric.
func (r *Run) Metric(name string) (float64, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// HistoryRow is one run's value for a single metric, with the run's raw
// config so callers can filter on it.
type HistoryRow struct {
	RunID      string
	CreatedAt  time.Time
	ConfigJSON string
	Value      float64
}

// Store is the run history.
type Store interface {
	// AppendRun atomically stores the run and all of its metrics.
	AppendRun(ctx context.Context, run *Run) error

	// RecentByMetric returns up to limit runs that carry metric, newest first.
	RecentByMetric(ctx context.Context, metric string, limit int) ([]HistoryRow, error)

	// ListRuns returns up to limit runs with their metrics, newest first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

// NewRunID returns an id of the form run_YYYYMMDD_HHMMSS_<12 hex chars>.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102_150405"), suffix)
}

func validateRun(run *Run) error {
	if run == nil {
		return errors.New("run cannot be nil")
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.CreatedAt.IsZero() {
		return errors.New("run created_at is required")
	}
	seen := make(map[string]bool, len(run.Metrics))
	for _, m := range run.Metrics {
		if m.Name == "" {
			return errors.New("metric name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate metric %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func configString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
