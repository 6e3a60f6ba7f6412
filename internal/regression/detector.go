// Package regression flags drops in a tracked retrieval metric across runs.
package regression

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/ragbench/internal/runstore"
)

// Status is the outcome of a regression check.
type Status string

const (
	StatusInsufficientData Status = "insufficient_data"
	StatusOK               Status = "ok"
	StatusRegression       Status = "regression"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultMetric     = "MRR@10"
	DefaultRetriever  = "TFIDF"
	DefaultMinHistory = 3
	DefaultTolerance  = 0.02
	DefaultWindow     = 50
)

// HistoryReader is the slice of the run store the detector needs.
type HistoryReader interface {
	RecentByMetric(ctx context.Context, metric string, limit int) ([]runstore.HistoryRow, error)
}

// Options configures a Detector.
type Options struct {
	Metric     string  `koanf:"metric" json:"metric"`
	Retriever  string  `koanf:"retriever" json:"retriever"`
	MinHistory int     `koanf:"min_history" json:"min_history"`
	Tolerance  float64 `koanf:"tolerance" json:"tolerance"`
	Window     int     `koanf:"window" json:"window"`
}

// DefaultOptions returns the standard check: MRR@10 of TFIDF runs.
func DefaultOptions() Options {
	return Options{
		Metric:     DefaultMetric,
		Retriever:  DefaultRetriever,
		MinHistory: DefaultMinHistory,
		Tolerance:  DefaultTolerance,
		Window:     DefaultWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.Metric == "" {
		o.Metric = DefaultMetric
	}
	if o.Retriever == "" {
		o.Retriever = DefaultRetriever
	}
	if o.MinHistory == 0 {
		o.MinHistory = DefaultMinHistory
	}
	// The latest run needs at least one earlier run to compare against.
	if o.MinHistory < 2 {
		o.MinHistory = 2
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	return o
}

// Point identifies a run and its metric value.
type Point struct {
	RunID string  `json:"run_id"`
	Value float64 `json:"value"`
}

// Result is the detector's verdict.
type Result struct {
	Status     Status  `json:"status"`
	Metric     string  `json:"metric"`
	Retriever  string  `json:"retriever"`
	Tolerance  float64 `json:"tolerance"`
	Considered int     `json:"considered"`
	MinHistory int     `json:"min_history"`
	Latest     *Point  `json:"latest,omitempty"`
	Best       *Point  `json:"best,omitempty"`
}

// Delta is latest minus best, or 0 without both points.
func (r Result) Delta() float64 {
	if r.Latest == nil || r.Best == nil {
		return 0
	}
	return r.Latest.Value - r.Best.Value
}

// Detector compares the newest comparable run against the best earlier one.
type Detector struct {
	reader HistoryReader
	opts   Options
}

// NewDetector creates a detector over reader.
func NewDetector(reader HistoryReader, opts Options) *Detector {
	return &Detector{reader: reader, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (d *Detector) Options() Options {
	return d.opts
}

// runConfig holds the config fields the detector filters on.
type runConfig struct {
	Retriever string          `json:"retriever"`
	Signature json.RawMessage `json:"benchmark_signature"`
}

type candidate struct {
	row       runstore.HistoryRow
	signature string
}

// Detect evaluates the most recent window of history.
//
// Only runs of the configured retriever are considered, and of those only
// runs whose benchmark signature matches the newest one's, so a change of
// corpus or chunking never looks like a regression. Rows whose config
// cannot be parsed are skipped.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	res := Result{
		Status:     StatusInsufficientData,
		Metric:     d.opts.Metric,
		Retriever:  d.opts.Retriever,
		Tolerance:  d.opts.Tolerance,
		MinHistory: d.opts.MinHistory,
	}

	rows, err := d.reader.RecentByMetric(ctx, d.opts.Metric, d.opts.Window)
	if err != nil {
		return res, fmt.Errorf("failed to read run history: %w", err)
	}

	var candidates []candidate
	for _, row := range rows {
		var cfg runConfig
		if err := json.Unmarshal([]byte(row.ConfigJSON), &cfg); err != nil {
			continue
		}
		if cfg.Retriever != d.opts.Retriever {
			continue
		}
		candidates = append(candidates, candidate{row: row, signature: canonical(cfg.Signature)})
	}

	if len(candidates) > 0 && candidates[0].signature != "" {
		want := candidates[0].signature
		matching := candidates[:0]
		for _, c := range candidates {
			if c.signature == want {
				matching = append(matching, c)
			}
		}
		candidates = matching
	}

	res.Considered = len(candidates)
	if len(candidates) < d.opts.MinHistory {
		return res, nil
	}

	latest := candidates[0].row
	best := candidates[1].row
	for _, c := range candidates[2:] {
		if c.row.Value > best.Value {
			best = c.row
		}
	}

	res.Latest = &Point{RunID: latest.RunID, Value: latest.Value}
	res.Best = &Point{RunID: best.RunID, Value: best.Value}
	if latest.Value < best.Value-d.opts.Tolerance {
		res.Status = StatusRegression
	} else {
		res.Status = StatusOK
	}
	return res, nil
}

// canonical re-encodes a JSON value with sorted object keys so equal
// signatures compare equal regardless of key order or whitespace.
// Missing or null signatures canonicalize to "".
func canonical(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(trimmed)
	}
	return string(out)
}
