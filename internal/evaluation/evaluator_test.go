package evaluation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragbench/internal/benchmark"
	"github.com/fyrsmithlabs/ragbench/internal/logging"
	"github.com/fyrsmithlabs/ragbench/internal/metrics"
	"github.com/fyrsmithlabs/ragbench/internal/retrieval"
)

// fixedRetriever returns a canned ranking per query.
type fixedRetriever map[string][]string

func (f fixedRetriever) Search(query string, k int) []retrieval.Result {
	ids := f[query]
	if k < len(ids) {
		ids = ids[:k]
	}
	out := make([]retrieval.Result, len(ids))
	for i, id := range ids {
		out[i] = retrieval.Result{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func TestEvaluate_Aggregates(t *testing.T) {
	r := fixedRetriever{
		"q1": {"a", "b"},
		"q2": {"x", "c"},
		"q3": {"y", "z"},
	}
	queries := []benchmark.Query{
		{Text: "q1", Relevant: metrics.Set("a")},
		{Text: "q2", Relevant: metrics.Set("c")},
		{Text: "q3", Relevant: metrics.Set("c")},
	}

	e := &Evaluator{KRecall: 5, KRank: 10, Workers: 2}
	s, err := e.Evaluate(context.Background(), "FIXED", r, queries, 12)
	require.NoError(t, err)

	assert.Equal(t, "FIXED", s.Retriever)
	assert.Equal(t, 3, s.Queries)
	assert.Equal(t, 12, s.Chunks)
	assert.Equal(t, metrics.Round4(2.0/3), s.Recall)
	assert.Equal(t, metrics.Round4((1+0.5)/3), s.MRR)
	require.Len(t, s.PerQuery, 3)
	assert.Equal(t, "q2", s.PerQuery[1].Query)
	assert.Equal(t, []string{"x", "c"}, s.PerQuery[1].Retrieved)
	assert.Zero(t, s.PerQuery[2].MRR)

	names := make([]string, 0, 5)
	for _, m := range s.Metrics() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Recall@5", "MRR@10", "nDCG@10", "Chunks", "Queries"}, names)
	assert.Equal(t, 12.0, s.Metrics()[3].Value)
}

func TestEvaluate_TracesEachQuery(t *testing.T) {
	tl := logging.NewTestLogger()
	ctx := logging.WithLogger(context.Background(), tl.Logger)

	queries := []benchmark.Query{
		{Text: "q1", Relevant: metrics.Set("a")},
		{Text: "q2", Relevant: metrics.Set("b")},
	}
	e := &Evaluator{KRecall: 1, KRank: 1, Workers: 1}
	_, err := e.Evaluate(ctx, "FIXED", fixedRetriever{"q1": {"a"}}, queries, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, tl.FilterMessage("query evaluated").Len())
	tl.AssertLogged(t, logging.TraceLevel, "query evaluated")
}

func TestEvaluate_ParallelMatchesSequential(t *testing.T) {
	corpus := retrieval.Corpus{
		{ID: "a::c000", Text: "incident commander pages on call"},
		{ID: "b::c000", Text: "standard error response format"},
		{ID: "c::c000", Text: "secrets live in the vault least privilege"},
		{ID: "d::c000", Text: "trace id and request id in every log line"},
	}
	queries := []benchmark.Query{
		{Text: "who pages on call", Relevant: metrics.Set("a::c000")},
		{Text: "error format", Relevant: metrics.Set("b::c000")},
		{Text: "where do secrets live", Relevant: metrics.Set("c::c000")},
		{Text: "which ids must be logged", Relevant: metrics.Set("d::c000")},
		{Text: "unrelated words", Relevant: metrics.Set("a::c000", "d::c000")},
	}

	for _, name := range retrieval.Names() {
		r, err := retrieval.New(name, corpus)
		require.NoError(t, err)

		seq, err := (&Evaluator{KRecall: 2, KRank: 3, Workers: 1}).Evaluate(context.Background(), name, r, queries, len(corpus))
		require.NoError(t, err)
		par, err := (&Evaluator{KRecall: 2, KRank: 3, Workers: 8}).Evaluate(context.Background(), name, r, queries, len(corpus))
		require.NoError(t, err)

		assert.Equal(t, seq, par, name)
	}
}

func TestEvaluate_NoQueries(t *testing.T) {
	s, err := (&Evaluator{KRecall: 5, KRank: 10}).Evaluate(context.Background(), "X", fixedRetriever{}, nil, 0)
	require.NoError(t, err)
	assert.Zero(t, s.Recall)
	assert.Zero(t, s.Queries)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	_, err := (&Evaluator{KRecall: 5, KRank: 10}).Evaluate(context.Background(), "X", nil, nil, 0)
	assert.Error(t, err)

	_, err = (&Evaluator{KRecall: 0, KRank: 10}).Evaluate(context.Background(), "X", fixedRetriever{}, nil, 0)
	assert.Error(t, err)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	queries := []benchmark.Query{{Text: "q", Relevant: metrics.Set("a")}}
	_, err := (&Evaluator{KRecall: 5, KRank: 10}).Evaluate(ctx, "X", fixedRetriever{}, queries, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze(t *testing.T) {
	corpus := retrieval.Corpus{
		{ID: "api_errors_legacy::c000", Text: "Old error format used plain strings."},
		{ID: "api_standards::c000", Text: strings.Repeat("Errors return code and message. ", 20)},
		{ID: "security_basics::c000", Text: "Never log secrets."},
	}

	t.Run("hit", func(t *testing.T) {
		r := fixedRetriever{"error format": {"api_errors_legacy::c000", "api_standards::c000"}}
		q := benchmark.Query{Text: "error format", Relevant: metrics.Set("api_standards::c000")}

		a := Analyze(r, corpus, q, 10)
		assert.True(t, a.Hit)
		assert.Equal(t, 2, a.HitRank)
		assert.Empty(t, a.Why)
		require.Len(t, a.Rows, 2)
		assert.Equal(t, "LEGACY/OUTDATED", a.Rows[0].Label)
		assert.Equal(t, LabelCurrent, a.Rows[1].Label)
		assert.True(t, a.Rows[1].Relevant)
		assert.True(t, strings.HasSuffix(a.Rows[1].Preview, "..."))
		assert.Len(t, []rune(a.Rows[1].Preview), previewLen+3)
	})

	t.Run("miss with overlap", func(t *testing.T) {
		r := fixedRetriever{"never log secrets?": {"api_errors_legacy::c000"}}
		q := benchmark.Query{Text: "never log secrets?", Relevant: metrics.Set("security_basics::c000")}

		a := Analyze(r, corpus, q, 10)
		assert.False(t, a.Hit)
		assert.Contains(t, a.Why, "Some overlap exists (log, never, secrets)")
	})

	t.Run("miss without overlap", func(t *testing.T) {
		r := fixedRetriever{}
		q := benchmark.Query{Text: "vault rotation", Relevant: metrics.Set("security_basics::c000")}

		a := Analyze(r, corpus, q, 10)
		assert.False(t, a.Hit)
		assert.Empty(t, a.Rows)
		assert.Contains(t, a.Why, "Low lexical overlap")
	})
}

func TestDocLabel(t *testing.T) {
	assert.Equal(t, "POLICY (NOT INCIDENT STEPS)", DocLabel("operations_policy::c002"))
	assert.Equal(t, LabelCurrent, DocLabel("incident_response::c000"))
	assert.Equal(t, LabelCurrent, DocLabel("no-separator"))
}
