package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// wordPattern matches tokens of two or more word characters.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// sparseVec is an L2-normalized vector with ascending term indexes.
type sparseVec struct {
	idx []int
	val []float64
}

// TFIDF ranks chunks by cosine similarity of TF-IDF vectors.
//
// Features are unigrams and adjacent bigrams of the lowercased tokens left
// after English stop words are removed. Weights are raw counts times the
// smoothed idf ln((1+n)/(1+df)) + 1.
type TFIDF struct {
	ids   []string
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
}

// NewTFIDF fits the vocabulary and idf weights on corpus.
func NewTFIDF(corpus Corpus) *TFIDF {
	t := &TFIDF{
		ids:   make([]string, len(corpus)),
		vocab: make(map[string]int),
	}

	termCounts := make([]map[string]int, len(corpus))
	df := make(map[string]int)
	for i, e := range corpus {
		t.ids[i] = e.ID
		counts := countTerms(tfidfTerms(e.Text))
		termCounts[i] = counts
		for term := range counts {
			df[term]++
		}
	}

	// Index terms alphabetically so vectors are laid out deterministically.
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	t.idf = make([]float64, len(terms))
	for i, term := range terms {
		t.vocab[term] = i
		t.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	t.docs = make([]sparseVec, len(corpus))
	for i, counts := range termCounts {
		t.docs[i] = t.vectorize(counts)
	}
	return t
}

// Search projects the query into the fitted vocabulary and ranks chunks by
// inner product. Query terms unseen during fitting are ignored.
func (t *TFIDF) Search(query string, k int) []Result {
	terms := tfidfTerms(query)
	if len(terms) == 0 || len(t.ids) == 0 {
		return []Result{}
	}
	q := t.vectorize(countTerms(terms))

	scores := make([]float64, len(t.docs))
	for i, d := range t.docs {
		scores[i] = dot(q, d)
	}
	return rank(t.ids, scores, k)
}

// VocabularySize reports the number of fitted features.
func (t *TFIDF) VocabularySize() int {
	return len(t.vocab)
}

func (t *TFIDF) vectorize(counts map[string]int) sparseVec {
	var v sparseVec
	for term, c := range counts {
		if idx, ok := t.vocab[term]; ok {
			v.idx = append(v.idx, idx)
			v.val = append(v.val, float64(c))
		}
	}
	sort.Sort(byIndex(v))

	norm := 0.0
	for i, idx := range v.idx {
		v.val[i] *= t.idf[idx]
		norm += v.val[i] * v.val[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range v.val {
			v.val[i] /= norm
		}
	}
	return v
}

func dot(a, b sparseVec) float64 {
	sum := 0.0
	i, j := 0, 0
	for i < len(a.idx) && j < len(b.idx) {
		switch {
		case a.idx[i] == b.idx[j]:
			sum += a.val[i] * b.val[j]
			i++
			j++
		case a.idx[i] < b.idx[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

type byIndex sparseVec

func (v byIndex) Len() int           { return len(v.idx) }
func (v byIndex) Less(i, j int) bool { return v.idx[i] < v.idx[j] }
func (v byIndex) Swap(i, j int) {
	v.idx[i], v.idx[j] = v.idx[j], v.idx[i]
	v.val[i], v.val[j] = v.val[j], v.val[i]
}

// tfidfTerms returns unigram and bigram features of text.
func tfidfTerms(text string) []string {
	var tokens []string
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if !isStopWord(tok) {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	terms := make([]string, 0, 2*len(tokens)-1)
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms
}

func countTerms(terms []string) map[string]int {
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	return counts
}
