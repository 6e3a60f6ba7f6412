// Package retrieval ranks corpus chunks against a free-text query.
//
// Two lexical strategies are provided: BM25 (Okapi) and TF-IDF cosine
// similarity over unigrams and bigrams. Both index an ordered Corpus once
// and are read-only afterwards, so Search is safe for concurrent use.
package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ragbench/internal/ingest"
)

// Strategy names. They are persisted as the run's retriever.
const (
	StrategyBM25  = "BM25"
	StrategyTFIDF = "TFIDF"
)

// Result is one ranked chunk. Scores are only comparable within a strategy.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Retriever returns the top k chunks for a query, best first.
//
// Equal scores keep corpus order. An empty query, an empty corpus or k <= 0
// yields an empty result.
type Retriever interface {
	Search(query string, k int) []Result
}

// Entry is a corpus item.
type Entry struct {
	ID   string
	Text string
}

// Corpus is an ordered collection of entries. Order is the tie-break order.
type Corpus []Entry

// CorpusFromChunks builds a corpus in chunk order.
func CorpusFromChunks(chunks []ingest.Chunk) Corpus {
	c := make(Corpus, len(chunks))
	for i, ch := range chunks {
		c[i] = Entry{ID: ch.ID, Text: ch.Text}
	}
	return c
}

// Text returns the text of the entry with the given id.
func (c Corpus) Text(id string) (string, bool) {
	for _, e := range c {
		if e.ID == id {
			return e.Text, true
		}
	}
	return "", false
}

// New constructs a retriever by strategy name (case-insensitive).
func New(name string, corpus Corpus) (Retriever, error) {
	switch strings.ToUpper(name) {
	case StrategyBM25:
		return NewBM25(corpus), nil
	case StrategyTFIDF:
		return NewTFIDF(corpus), nil
	default:
		return nil, fmt.Errorf("unsupported retrieval strategy: %s (supported: %s)",
			name, strings.Join(Names(), ", "))
	}
}

// Names lists the supported strategies in evaluation order.
func Names() []string {
	return []string{StrategyBM25, StrategyTFIDF}
}

// Supported reports whether name matches a strategy, ignoring case.
func Supported(name string) bool {
	for _, n := range Names() {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// rank orders corpus positions by descending score and returns the top k.
// sort.SliceStable keeps equal scores in corpus order.
func rank(ids []string, scores []float64, k int) []Result {
	if k <= 0 || len(ids) == 0 {
		return []Result{}
	}
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if k > len(order) {
		k = len(order)
	}
	out := make([]Result, k)
	for i, idx := range order[:k] {
		out[i] = Result{ID: ids[idx], Score: scores[idx]}
	}
	return out
}

// IDs extracts the chunk ids of results in rank order.
func IDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}
