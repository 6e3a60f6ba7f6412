// Package pipeline runs a full benchmark: ingest, build queries, evaluate
// each configured strategy and persist one run per strategy.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragbench/internal/benchmark"
	"github.com/fyrsmithlabs/ragbench/internal/evaluation"
	"github.com/fyrsmithlabs/ragbench/internal/ingest"
	"github.com/fyrsmithlabs/ragbench/internal/logging"
	"github.com/fyrsmithlabs/ragbench/internal/retrieval"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
	"github.com/fyrsmithlabs/ragbench/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/ragbench/internal/pipeline"

// Options configures one benchmark invocation.
type Options struct {
	// DocsDir is read when Source is nil and is recorded in the signature.
	DocsDir string
	Source  ingest.Source

	ChunkSize int
	Overlap   int

	KRecall int
	KRank   int
	Workers int

	// Retrievers defaults to every supported strategy.
	Retrievers []string
	// Catalog defaults to benchmark.DefaultCatalog().
	Catalog benchmark.Catalog
	Notes   string

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// ChunkingSignature is the chunking part of a benchmark signature.
type ChunkingSignature struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}

// Signature identifies a benchmark so only like runs are compared.
type Signature struct {
	DocsFolder string            `json:"docs_folder"`
	Chunks     int               `json:"chunks"`
	Queries    int               `json:"queries"`
	Chunking   ChunkingSignature `json:"chunking"`
}

type chunkingSettings struct {
	ChunkSizeWords int `json:"chunk_size_words"`
	OverlapWords   int `json:"overlap_words"`
}

// RunConfig is the JSON document stored with every run.
type RunConfig struct {
	Dataset   string           `json:"dataset"`
	Chunking  chunkingSettings `json:"chunking"`
	KRecall   int              `json:"k_recall"`
	KRank     int              `json:"k_rank"`
	Notes     string           `json:"notes,omitempty"`
	Retriever string           `json:"retriever"`
	Signature Signature        `json:"benchmark_signature"`
}

// Outcome describes what one invocation produced.
type Outcome struct {
	Documents int                   `json:"documents"`
	Chunks    int                   `json:"chunks"`
	Queries   int                   `json:"queries"`
	Runs      []runstore.Run        `json:"runs"`
	Summaries []*evaluation.Summary `json:"summaries"`
}

// Runner executes benchmark invocations against a store.
type Runner struct {
	store   runstore.Store
	opts    Options
	logger  *logging.Logger
	tracer  trace.Tracer
	latency metric.Float64Histogram
	metrics *Metrics
}

// NewRunner creates a Runner. logger and tel may be nil.
func NewRunner(store runstore.Store, opts Options, logger *logging.Logger, tel *telemetry.Telemetry) (*Runner, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if opts.Source == nil && opts.DocsDir == "" {
		return nil, errors.New("docs dir or source is required")
	}
	if opts.DocsDir != "" {
		// Equivalent spellings of one folder must share a signature.
		opts.DocsDir = filepath.ToSlash(filepath.Clean(opts.DocsDir))
	}
	if len(opts.Retrievers) == 0 {
		opts.Retrievers = retrieval.Names()
	} else {
		opts.Retrievers = append([]string(nil), opts.Retrievers...)
	}
	for i, name := range opts.Retrievers {
		if !retrieval.Supported(name) {
			return nil, fmt.Errorf("unsupported retrieval strategy: %s", name)
		}
		opts.Retrievers[i] = strings.ToUpper(name)
	}
	if opts.Catalog == nil {
		opts.Catalog = benchmark.DefaultCatalog()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	latency, err := tel.Meter(instrumentationName).Float64Histogram(
		"ragbench.evaluation.duration",
		metric.WithDescription("Duration of one strategy evaluation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation histogram: %w", err)
	}

	return &Runner{
		store:   store,
		opts:    opts,
		logger:  logger.Named("pipeline"),
		tracer:  tel.Tracer(instrumentationName),
		latency: latency,
		metrics: NewMetrics(),
	}, nil
}

// Options returns the effective options.
func (r *Runner) Options() Options {
	return r.opts
}

// Run executes one invocation. Ingest failures abort before anything is
// persisted. Each strategy's run is appended atomically; a failure stops
// the remaining strategies.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	ctx = logging.WithLogger(ctx, r.logger)

	chunks, docs, err := r.ingest(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		r.logger.Error(ctx, "ingest failed", zap.String("docs_dir", r.opts.DocsDir), zap.Error(err))
		return nil, fmt.Errorf("ingest: %w", err)
	}

	_, bspan := r.tracer.Start(ctx, "pipeline.benchmark")
	queries := benchmark.Build(chunks, r.opts.Catalog)
	bspan.SetAttributes(attribute.Int("queries", len(queries)))
	bspan.End()

	r.logger.Info(ctx, "benchmark built",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Int("queries", len(queries)),
	)

	sig := Signature{
		DocsFolder: r.opts.DocsDir,
		Chunks:     len(chunks),
		Queries:    len(queries),
		Chunking:   ChunkingSignature{ChunkSize: r.opts.ChunkSize, Overlap: r.opts.Overlap},
	}
	corpus := retrieval.CorpusFromChunks(chunks)
	eval := &evaluation.Evaluator{KRecall: r.opts.KRecall, KRank: r.opts.KRank, Workers: r.opts.Workers}

	out := &Outcome{Documents: len(docs), Chunks: len(chunks), Queries: len(queries)}
	for _, name := range r.opts.Retrievers {
		rctx := logging.WithRetriever(ctx, name)
		summary, err := r.evaluate(rctx, eval, name, corpus, queries, len(chunks))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "evaluation failed")
			return out, fmt.Errorf("evaluate %s: %w", name, err)
		}

		run, err := r.persist(rctx, name, summary, sig)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			return out, fmt.Errorf("persist %s: %w", name, err)
		}
		out.Summaries = append(out.Summaries, summary)
		out.Runs = append(out.Runs, *run)
	}

	span.SetAttributes(attribute.Int("runs", len(out.Runs)))
	return out, nil
}

func (r *Runner) ingest(ctx context.Context) ([]ingest.Chunk, []ingest.Document, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.ingest")
	defer span.End()

	src := r.opts.Source
	if src == nil {
		src = ingest.NewFolderSource(r.opts.DocsDir)
	}
	chunks, docs, err := ingest.Ingest(ctx, src, r.opts.ChunkSize, r.opts.Overlap)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("documents", len(docs)), attribute.Int("chunks", len(chunks)))
	return chunks, docs, nil
}

func (r *Runner) evaluate(ctx context.Context, eval *evaluation.Evaluator, name string, corpus retrieval.Corpus, queries []benchmark.Query, chunks int) (*evaluation.Summary, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.evaluate",
		trace.WithAttributes(attribute.String("retriever", name)))
	defer span.End()

	start := time.Now()
	retriever, err := retrieval.New(name, corpus)
	if err != nil {
		return nil, err
	}
	summary, err := eval.Evaluate(ctx, name, retriever, queries, chunks)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	elapsed := time.Since(start)

	r.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("retriever", name)))
	r.metrics.EvaluationDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Float64("recall", summary.Recall),
		attribute.Float64("mrr", summary.MRR),
		attribute.Float64("ndcg", summary.NDCG),
	)
	r.logger.Debug(ctx, "strategy evaluated", zap.Duration("elapsed", elapsed))
	return summary, nil
}

func (r *Runner) persist(ctx context.Context, name string, summary *evaluation.Summary, sig Signature) (*runstore.Run, error) {
	now := r.opts.Now().UTC()
	run := &runstore.Run{
		ID:        runstore.NewRunID(now),
		CreatedAt: now,
		Name:      strings.ToLower(name) + "_run",
		Notes:     name + " benchmark run",
		Retriever: name,
		Metrics:   summary.Metrics(),
	}
	ctx = logging.WithRunID(ctx, run.ID)

	ctx, span := r.tracer.Start(ctx, "pipeline.persist",
		trace.WithAttributes(attribute.String("run.id", run.ID), attribute.String("retriever", name)))
	defer span.End()

	cfg, err := json.Marshal(RunConfig{
		Dataset:   "docs_folder:" + r.opts.DocsDir,
		Chunking:  chunkingSettings{ChunkSizeWords: r.opts.ChunkSize, OverlapWords: r.opts.Overlap},
		KRecall:   r.opts.KRecall,
		KRank:     r.opts.KRank,
		Notes:     r.opts.Notes,
		Retriever: name,
		Signature: sig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}
	run.Config = cfg

	if err := r.store.AppendRun(ctx, run); err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.metrics.RecordRun(run)

	fields := []zap.Field{zap.String("name", run.Name)}
	for _, m := range run.Metrics {
		fields = append(fields, zap.Float64(m.Name, m.Value))
	}
	r.logger.Info(ctx, "run persisted", fields...)
	return run, nil
}

// ErrNoQueries reports a corpus for which the catalog yields no queries.
var ErrNoQueries = errors.New("no benchmark queries found")

// AnalysisReport is the failure analysis of one benchmark query.
type AnalysisReport struct {
	Retriever string              `json:"retriever"`
	Index     int                 `json:"index"`
	Queries   []string            `json:"queries"`
	Analysis  evaluation.Analysis `json:"analysis"`
}

// Analyze ranks benchmark query index with retriever and explains the
// result. The index is clamped into range; k <= 0 uses KRank.
func (r *Runner) Analyze(ctx context.Context, retriever string, index, k int) (*AnalysisReport, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.analyze",
		trace.WithAttributes(attribute.String("retriever", retriever)))
	defer span.End()

	if retriever == "" {
		retriever = retrieval.StrategyBM25
	}
	if k <= 0 {
		k = r.opts.KRank
	}

	chunks, _, err := r.ingest(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	queries := benchmark.Build(chunks, r.opts.Catalog)
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}
	index = max(0, min(index, len(queries)-1))

	corpus := retrieval.CorpusFromChunks(chunks)
	ret, err := retrieval.New(retriever, corpus)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}
	return &AnalysisReport{
		Retriever: strings.ToUpper(retriever),
		Index:     index,
		Queries:   texts,
		Analysis:  evaluation.Analyze(ret, corpus, queries[index], k),
	}, nil
}
