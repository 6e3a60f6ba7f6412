package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragbench/internal/benchmark"
	"github.com/fyrsmithlabs/ragbench/internal/ingest"
	"github.com/fyrsmithlabs/ragbench/internal/logging"
	"github.com/fyrsmithlabs/ragbench/internal/regression"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
	"github.com/fyrsmithlabs/ragbench/internal/telemetry"
)

var testDocs = ingest.StaticSource{
	{
		ID: benchmark.DocOnboarding,
		Text: "Services live under the services directory of the monorepo. Local setup uses make dev " +
			"and docker compose. Environments are dev, staging and prod. Never run destructive " +
			"migrations in prod; test destructive changes in staging first.",
	},
	{
		ID: benchmark.DocIncidentResponse,
		Text: "A SEV-1 incident is a full customer outage. In the first 15 minutes the incident " +
			"commander opens a bridge, pages owners and posts a status update. After an incident " +
			"we write a postmortem and track follow-up action items to prevent repeat failures.",
	},
}

func testOptions() Options {
	return Options{
		DocsDir:   "data/docs",
		Source:    testDocs,
		ChunkSize: 20,
		Overlap:   5,
		KRecall:   5,
		KRank:     10,
		Workers:   2,
		Notes:     "test run",
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestNewRunner_Validation(t *testing.T) {
	store := runstore.NewMemoryStore()

	tests := []struct {
		name    string
		store   runstore.Store
		mutate  func(*Options)
		wantErr string
	}{
		{"nil store", nil, func(*Options) {}, "store cannot be nil"},
		{"no docs", store, func(o *Options) { o.Source = nil; o.DocsDir = "" }, "docs dir or source"},
		{"unknown strategy", store, func(o *Options) { o.Retrievers = []string{"dense"} }, "unsupported retrieval strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := NewRunner(tt.store, opts, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	requested := []string{"tfidf"}
	opts := testOptions()
	opts.Retrievers = requested
	opts.Now = nil

	r, err := NewRunner(runstore.NewMemoryStore(), opts, nil, nil)
	require.NoError(t, err)

	eff := r.Options()
	assert.Equal(t, []string{"TFIDF"}, eff.Retrievers)
	assert.Equal(t, []string{"tfidf"}, requested, "caller slice must not be modified")
	assert.Len(t, eff.Catalog, len(benchmark.DefaultCatalog()))
	assert.NotNil(t, eff.Now)
}

func TestNewRunner_CleansDocsDir(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data/docs", "data/docs"},
		{"./data/docs", "data/docs"},
		{"data/docs/", "data/docs"},
		{"data//other/../docs", "data/docs"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			opts := testOptions()
			opts.DocsDir = tt.in
			r, err := NewRunner(runstore.NewMemoryStore(), opts, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Options().DocsDir)
		})
	}
}

func TestRunner_EquivalentDocsPathsShareHistory(t *testing.T) {
	ctx := context.Background()
	store := runstore.NewMemoryStore()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, dir := range []string{"data/docs", "./data/docs", "data/docs/"} {
		opts := testOptions()
		opts.DocsDir = dir
		opts.Now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
		r, err := NewRunner(store, opts, nil, nil)
		require.NoError(t, err)
		_, err = r.Run(ctx)
		require.NoError(t, err)
	}

	res, err := regression.NewDetector(store, regression.DefaultOptions()).Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Considered)
	assert.Equal(t, regression.StatusOK, res.Status)
}

func TestRunner_Run_PersistsOneRunPerStrategy(t *testing.T) {
	ctx := context.Background()
	store := runstore.NewMemoryStore()
	tl := logging.NewTestLogger()
	tt := telemetry.NewTestTelemetry()

	r, err := NewRunner(store, testOptions(), tl.Logger, tt.Telemetry)
	require.NoError(t, err)

	out, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Documents)
	assert.Greater(t, out.Chunks, 2)
	// three onboarding and four incident entries; fallback-only entries drop out
	assert.Equal(t, 7, out.Queries)
	require.Len(t, out.Runs, 2)
	require.Len(t, out.Summaries, 2)

	assert.Equal(t, "BM25", out.Runs[0].Retriever)
	assert.Equal(t, "bm25_run", out.Runs[0].Name)
	assert.Equal(t, "BM25 benchmark run", out.Runs[0].Notes)
	assert.Equal(t, "TFIDF", out.Runs[1].Retriever)
	assert.NotEqual(t, out.Runs[0].ID, out.Runs[1].ID)

	var names []string
	for _, m := range out.Runs[0].Metrics {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Recall@5", "MRR@10", "nDCG@10", "Chunks", "Queries"}, names)

	var cfg RunConfig
	require.NoError(t, json.Unmarshal(out.Runs[1].Config, &cfg))
	assert.Equal(t, "TFIDF", cfg.Retriever)
	assert.Equal(t, "docs_folder:data/docs", cfg.Dataset)
	assert.Equal(t, 20, cfg.Chunking.ChunkSizeWords)
	assert.Equal(t, Signature{
		DocsFolder: "data/docs",
		Chunks:     out.Chunks,
		Queries:    7,
		Chunking:   ChunkingSignature{ChunkSize: 20, Overlap: 5},
	}, cfg.Signature)

	stored, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	tl.AssertLogged(t, zapcore.InfoLevel, "benchmark built")
	tl.AssertField(t, "benchmark built", "queries", int64(7))
	tl.AssertLogged(t, zapcore.InfoLevel, "run persisted")

	tt.AssertSpanExists(t, "pipeline.run")
	tt.AssertSpanExists(t, "pipeline.ingest")
	tt.AssertSpanExists(t, "pipeline.benchmark")
	tt.AssertSpanAttribute(t, "pipeline.evaluate", "retriever", "TFIDF")
	tt.AssertSpanExists(t, "pipeline.persist")

	metricNames, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, metricNames, "ragbench.evaluation.duration")
}

func TestRunner_Run_IngestFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := runstore.NewMemoryStore()
	tl := logging.NewTestLogger()

	opts := testOptions()
	opts.Source = nil
	opts.DocsDir = t.TempDir()

	r, err := NewRunner(store, opts, tl.Logger, nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrNoDocuments))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	tl.AssertLogged(t, zapcore.ErrorLevel, "ingest failed")
}

type failingStore struct {
	*runstore.MemoryStore
	err error
}

func (f *failingStore) AppendRun(context.Context, *runstore.Run) error { return f.err }

func TestRunner_Run_PersistFailureStops(t *testing.T) {
	store := &failingStore{MemoryStore: runstore.NewMemoryStore(), err: errors.New("disk full")}

	r, err := NewRunner(store, testOptions(), nil, nil)
	require.NoError(t, err)

	out, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist BM25")
	assert.Empty(t, out.Runs)
}

func TestRunner_Run_Deterministic(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.Workers = 1
	seq, err := NewRunner(runstore.NewMemoryStore(), opts, nil, nil)
	require.NoError(t, err)
	opts.Workers = 8
	par, err := NewRunner(runstore.NewMemoryStore(), opts, nil, nil)
	require.NoError(t, err)

	a, err := seq.Run(ctx)
	require.NoError(t, err)
	b, err := par.Run(ctx)
	require.NoError(t, err)

	for i := range a.Runs {
		assert.Equal(t, a.Runs[i].Metrics, b.Runs[i].Metrics)
	}
}

func TestRunner_RepeatedRunsAreNotARegression(t *testing.T) {
	ctx := context.Background()
	store := runstore.NewMemoryStore()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := testOptions()
	opts.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r, err := NewRunner(store, opts, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.Run(ctx)
		require.NoError(t, err)
	}

	res, err := regression.NewDetector(store, regression.DefaultOptions()).Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, regression.StatusOK, res.Status)
	assert.Equal(t, 3, res.Considered)
	assert.InDelta(t, 0, res.Delta(), 1e-12)
}

func TestRunner_Analyze(t *testing.T) {
	ctx := context.Background()
	r, err := NewRunner(runstore.NewMemoryStore(), testOptions(), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		retriever string
		index     int
		wantIndex int
		wantName  string
	}{
		{"defaults to BM25", "", 0, 0, "BM25"},
		{"clamps high index", "tfidf", 99, 6, "TFIDF"},
		{"clamps negative index", "BM25", -3, 0, "BM25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := r.Analyze(ctx, tt.retriever, tt.index, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, rep.Retriever)
			assert.Equal(t, tt.wantIndex, rep.Index)
			assert.Len(t, rep.Queries, 7)
			assert.Equal(t, rep.Queries[tt.wantIndex], rep.Analysis.Query)
			assert.Equal(t, 10, rep.Analysis.K)
		})
	}

	_, err = r.Analyze(ctx, "dense", 0, 5)
	assert.ErrorContains(t, err, "unsupported retrieval strategy")
}

func TestRunner_Analyze_NoQueries(t *testing.T) {
	opts := testOptions()
	opts.Source = ingest.StaticSource{{ID: "unrelated", Text: "nothing in the catalog points here"}}
	r, err := NewRunner(runstore.NewMemoryStore(), opts, nil, nil)
	require.NoError(t, err)

	_, err = r.Analyze(context.Background(), "BM25", 0, 10)
	assert.ErrorIs(t, err, ErrNoQueries)
}
