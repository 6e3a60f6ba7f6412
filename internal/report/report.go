// Package report turns stored runs into leaderboards, per-strategy series
// and signature listings, and renders them for the terminal.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/ragbench/internal/metrics"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
)

// Default listing sizes.
const (
	DefaultLeaderboardLimit = 50
	DefaultCompareLimit     = 30
	DefaultSignatureLimit   = 20
)

// UnknownRetriever labels runs whose strategy cannot be determined.
const UnknownRetriever = "unknown"

// RunLister is the store capability reports need.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]runstore.Run, error)
}

// LeaderboardRow is one run with its metrics sorted by name.
type LeaderboardRow struct {
	RunID     string            `json:"run_id"`
	CreatedAt time.Time         `json:"created_at"`
	Retriever string            `json:"retriever"`
	Metrics   []runstore.Metric `json:"metrics"`
}

// SeriesPoint is one run's value of the compared metric.
type SeriesPoint struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Value     float64   `json:"value"`
}

// Series holds one strategy's points, oldest first.
type Series struct {
	Retriever string        `json:"retriever"`
	Points    []SeriesPoint `json:"points"`
}

// Values returns the point values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// SignatureRow is the benchmark signature recorded with one run.
type SignatureRow struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Signature json.RawMessage `json:"signature,omitempty"`
}

type runConfig struct {
	Retriever string          `json:"retriever"`
	Signature json.RawMessage `json:"benchmark_signature"`
}

func parseConfig(run runstore.Run) (runConfig, bool) {
	var cfg runConfig
	if len(run.Config) == 0 {
		return cfg, false
	}
	if err := json.Unmarshal(run.Config, &cfg); err != nil {
		return cfg, false
	}
	return cfg, true
}

// retrieverOf prefers the stored column, then the config, then "unknown".
func retrieverOf(run runstore.Run) string {
	if run.Retriever != "" {
		return run.Retriever
	}
	if cfg, ok := parseConfig(run); ok && cfg.Retriever != "" {
		return cfg.Retriever
	}
	return UnknownRetriever
}

// Leaderboard lists the newest runs with their metrics rounded to four places.
func Leaderboard(ctx context.Context, store RunLister, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return Rows(runs), nil
}

// Rows converts runs into leaderboard rows, keeping their order.
func Rows(runs []runstore.Run) []LeaderboardRow {
	rows := make([]LeaderboardRow, 0, len(runs))
	for _, run := range runs {
		ms := make([]runstore.Metric, len(run.Metrics))
		for i, m := range run.Metrics {
			ms[i] = runstore.Metric{Name: m.Name, Value: metrics.Round4(m.Value)}
		}
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
		rows = append(rows, LeaderboardRow{
			RunID:     run.ID,
			CreatedAt: run.CreatedAt,
			Retriever: retrieverOf(run),
			Metrics:   ms,
		})
	}
	return rows
}

// CompareSeries groups the newest runs carrying metric by strategy.
// Series are sorted by strategy name; runs without the metric are skipped.
func CompareSeries(ctx context.Context, store RunLister, metric string, limit int) ([]Series, error) {
	if limit <= 0 {
		limit = DefaultCompareLimit
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	byRetriever := map[string][]SeriesPoint{}
	for _, run := range runs {
		v, ok := run.Metric(metric)
		if !ok {
			continue
		}
		name := retrieverOf(run)
		byRetriever[name] = append(byRetriever[name], SeriesPoint{RunID: run.ID, CreatedAt: run.CreatedAt, Value: v})
	}

	out := make([]Series, 0, len(byRetriever))
	for name, points := range byRetriever {
		// runs arrive newest first
		for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
			points[i], points[j] = points[j], points[i]
		}
		out = append(out, Series{Retriever: name, Points: points})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Retriever < out[j].Retriever })
	return out, nil
}

// Signatures lists benchmark signatures of one strategy's newest runs.
func Signatures(ctx context.Context, store RunLister, retriever string, limit int) ([]SignatureRow, error) {
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var out []SignatureRow
	for _, run := range runs {
		if retrieverOf(run) != retriever {
			continue
		}
		row := SignatureRow{RunID: run.ID, CreatedAt: run.CreatedAt}
		if cfg, ok := parseConfig(run); ok && len(cfg.Signature) > 0 && string(cfg.Signature) != "null" {
			row.Signature = cfg.Signature
		}
		out = append(out, row)
	}
	return out, nil
}
