package retrieval

import (
	"math"
	"sort"
	"strings"
)

// Okapi BM25 parameters.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// punctuation trimmed from both ends of every BM25 token.
const bm25Trim = ".,!?;:()[]{}\"'"

// BM25 ranks chunks with Okapi BM25 over whitespace tokens.
type BM25 struct {
	ids    []string
	tf     []map[string]int
	docLen []int
	avgdl  float64
	idf    map[string]float64
}

// NewBM25 indexes corpus.
//
// Terms whose raw idf is negative (present in more than half the corpus)
// get epsilon times the mean idf instead, so common terms still contribute
// a small positive weight.
func NewBM25(corpus Corpus) *BM25 {
	b := &BM25{
		ids:    make([]string, len(corpus)),
		tf:     make([]map[string]int, len(corpus)),
		docLen: make([]int, len(corpus)),
		idf:    make(map[string]float64),
	}

	df := make(map[string]int)
	total := 0
	for i, e := range corpus {
		b.ids[i] = e.ID
		tokens := bm25Tokenize(e.Text, true)
		b.docLen[i] = len(tokens)
		total += len(tokens)

		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		b.tf[i] = counts
		for tok := range counts {
			df[tok]++
		}
	}
	if len(corpus) == 0 {
		return b
	}
	b.avgdl = float64(total) / float64(len(corpus))

	// Sum in a fixed order so the floor is bit-for-bit reproducible.
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	sum := 0.0
	var negative []string
	for _, term := range terms {
		freq := df[term]
		v := math.Log(n-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		b.idf[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	floor := bm25Epsilon * sum / float64(len(df))
	for _, term := range negative {
		b.idf[term] = floor
	}
	return b
}

// Search scores every chunk and returns the k best.
func (b *BM25) Search(query string, k int) []Result {
	tokens := bm25Tokenize(query, false)
	if len(tokens) == 0 || len(b.ids) == 0 {
		return []Result{}
	}
	return rank(b.ids, b.scores(tokens), k)
}

func (b *BM25) scores(query []string) []float64 {
	scores := make([]float64, len(b.ids))
	if b.avgdl == 0 {
		return scores
	}
	for _, q := range query {
		idf, ok := b.idf[q]
		if !ok {
			continue
		}
		for i, counts := range b.tf {
			f := float64(counts[q])
			if f == 0 {
				continue
			}
			norm := bm25K1 * (1 - bm25B + bm25B*float64(b.docLen[i])/b.avgdl)
			scores[i] += idf * f * (bm25K1 + 1) / (f + norm)
		}
	}
	return scores
}

// bm25Tokenize splits on whitespace and trims punctuation. Document tokens
// that trim to "" are kept so they count toward document length; query
// tokens that trim to "" are dropped.
func bm25Tokenize(text string, keepEmpty bool) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(strings.Trim(f, bm25Trim))
		if tok != "" || keepEmpty {
			out = append(out, tok)
		}
	}
	return out
}
