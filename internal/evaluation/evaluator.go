// Package evaluation runs benchmark queries through a retriever and
// aggregates ranking-quality metrics.
package evaluation

import (
	"context"
	"errors"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragbench/internal/benchmark"
	"github.com/fyrsmithlabs/ragbench/internal/logging"
	"github.com/fyrsmithlabs/ragbench/internal/metrics"
	"github.com/fyrsmithlabs/ragbench/internal/retrieval"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
)

// Count metrics stored alongside the quality metrics.
const (
	MetricChunks  = "Chunks"
	MetricQueries = "Queries"
)

// Evaluator scores a retriever against benchmark queries.
type Evaluator struct {
	KRecall int
	KRank   int
	// Workers bounds concurrent queries. Zero means GOMAXPROCS.
	Workers int
}

// QueryResult holds one query's ranking and scores.
type QueryResult struct {
	Query     string   `json:"query"`
	Retrieved []string `json:"retrieved"`
	Recall    float64  `json:"recall"`
	MRR       float64  `json:"mrr"`
	NDCG      float64  `json:"ndcg"`
}

// Summary is the aggregate result of one retriever over all queries.
type Summary struct {
	Retriever string        `json:"retriever"`
	KRecall   int           `json:"k_recall"`
	KRank     int           `json:"k_rank"`
	Recall    float64       `json:"recall"`
	MRR       float64       `json:"mrr"`
	NDCG      float64       `json:"ndcg"`
	Chunks    int           `json:"chunks"`
	Queries   int           `json:"queries"`
	PerQuery  []QueryResult `json:"per_query,omitempty"`
}

// Metrics returns the persisted metric list in a fixed order.
func (s *Summary) Metrics() []runstore.Metric {
	return []runstore.Metric{
		{Name: metrics.Name(metrics.KindRecall, s.KRecall), Value: s.Recall},
		{Name: metrics.Name(metrics.KindMRR, s.KRank), Value: s.MRR},
		{Name: metrics.Name(metrics.KindNDCG, s.KRank), Value: s.NDCG},
		{Name: MetricChunks, Value: float64(s.Chunks)},
		{Name: MetricQueries, Value: float64(s.Queries)},
	}
}

// Evaluate runs every query and averages the per-query metrics.
//
// The ranking is fetched once per query at the larger of the two cutoffs.
// Per-query results land at their query's index, so the output does not
// depend on scheduling. Means are rounded to four decimals.
func (e *Evaluator) Evaluate(ctx context.Context, name string, r retrieval.Retriever, queries []benchmark.Query, chunks int) (*Summary, error) {
	if r == nil {
		return nil, errors.New("retriever cannot be nil")
	}
	if e.KRecall <= 0 || e.KRank <= 0 {
		return nil, errors.New("k_recall and k_rank must be positive")
	}

	depth := e.KRank
	if e.KRecall > depth {
		depth = e.KRecall
	}

	logger := logging.FromContext(ctx)
	results := make([]QueryResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ids := retrieval.IDs(r.Search(q.Text, depth))
			results[i] = QueryResult{
				Query:     q.Text,
				Retrieved: ids,
				Recall:    metrics.RecallAtK(q.Relevant, ids, e.KRecall),
				MRR:       metrics.MRRAtK(q.Relevant, ids, e.KRank),
				NDCG:      metrics.NDCGAtK(q.Relevant, ids, e.KRank),
			}
			logger.Trace(gctx, "query evaluated",
				zap.Int("index", i),
				zap.String("query", q.Text),
				zap.Float64("mrr", results[i].MRR),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{
		Retriever: name,
		KRecall:   e.KRecall,
		KRank:     e.KRank,
		Chunks:    chunks,
		Queries:   len(queries),
		PerQuery:  results,
	}
	if len(results) > 0 {
		var recall, mrr, ndcg float64
		for _, res := range results {
			recall += res.Recall
			mrr += res.MRR
			ndcg += res.NDCG
		}
		n := float64(len(results))
		s.Recall = metrics.Round4(recall / n)
		s.MRR = metrics.Round4(mrr / n)
		s.NDCG = metrics.Round4(ndcg / n)
	}
	return s, nil
}

func (e *Evaluator) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}
