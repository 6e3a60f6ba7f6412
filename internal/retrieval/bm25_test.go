package retrieval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBM25Tokenize(t *testing.T) {
	tests := []struct {
		in        string
		keepEmpty bool
		want      []string
	}{
		{"Hello, World!", false, []string{"hello", "world"}},
		{`("Quoted") [text]`, false, []string{"quoted", "text"}},
		{"SEV-1 p99.9", false, []string{"sev-1", "p99.9"}},
		{"... ---", false, []string{"---"}},
		{"... ---", true, []string{"", "---"}},
		{"wait ... () done", true, []string{"wait", "", "", "done"}},
		{"", true, []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bm25Tokenize(tt.in, tt.keepEmpty), tt.in)
	}
}

func TestBM25_Scores(t *testing.T) {
	corpus := Corpus{
		{ID: "c1", Text: "the cat sat"},
		{ID: "c2", Text: "the dog ran"},
		{ID: "c3", Text: "a bird flew"},
	}
	b := NewBM25(corpus)

	res := b.Search("cat", 3)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, IDs(res))

	// Single occurrence in a document of average length:
	// idf * f*(k1+1) / (f + k1) with f = 1.
	idf := math.Log((3 - 1 + 0.5) / (1 + 0.5))
	want := idf * (bm25K1 + 1) / (1 + bm25K1)
	assert.InDelta(t, want, res[0].Score, 1e-12)
	assert.Zero(t, res[1].Score)
	assert.Zero(t, res[2].Score)
}

func TestBM25_RepeatedQueryTermsAccumulate(t *testing.T) {
	b := NewBM25(Corpus{{ID: "c1", Text: "cat"}, {ID: "c2", Text: "dog"}, {ID: "c3", Text: "fish"}})
	once := b.Search("cat", 1)[0].Score
	twice := b.Search("cat cat", 1)[0].Score
	assert.InDelta(t, 2*once, twice, 1e-12)
}

func TestBM25_NegativeIDFFloored(t *testing.T) {
	// "common" appears everywhere, so its raw idf is negative and gets
	// replaced by epsilon times the mean idf.
	corpus := Corpus{
		{ID: "c1", Text: "common x"},
		{ID: "c2", Text: "common y"},
		{ID: "c3", Text: "common z"},
	}
	b := NewBM25(corpus)

	unique := math.Log(2.5 / 1.5)
	raw := math.Log(0.5 / 3.5)
	mean := (3*unique + raw) / 4
	assert.InDelta(t, bm25Epsilon*mean, b.idf["common"], 1e-12)
	assert.InDelta(t, unique, b.idf["x"], 1e-12)

	// Every chunk scores the same, so corpus order decides.
	assert.Equal(t, []string{"c1", "c2", "c3"}, IDs(b.Search("common", 3)))
}

func TestBM25_PunctuationInsensitive(t *testing.T) {
	// Three entries so the query terms (df = 1) get a positive idf.
	b := NewBM25(Corpus{
		{ID: "c1", Text: "Unrelated words here."},
		{ID: "c2", Text: "Rollback (prod) deploys!"},
		{ID: "c3", Text: "Staging notes only."},
	})
	res := b.Search("rollback prod", 1)
	require.Len(t, res, 1)
	assert.Equal(t, "c2", res[0].ID)
}

func TestBM25_PunctuationOnlyTokensCountTowardLength(t *testing.T) {
	b := NewBM25(Corpus{
		{ID: "c1", Text: "cat ... ()"},
		{ID: "c2", Text: "dog"},
		{ID: "c3", Text: "fish"},
	})
	assert.Equal(t, []int{3, 1, 1}, b.docLen)
	assert.InDelta(t, 5.0/3, b.avgdl, 1e-12)

	// A longer document is penalized by length normalization.
	f := 1.0
	norm := bm25K1 * (1 - bm25B + bm25B*3/(5.0/3))
	want := b.idf["cat"] * f * (bm25K1 + 1) / (f + norm)
	res := b.Search("cat", 1)
	require.Len(t, res, 1)
	assert.InDelta(t, want, res[0].Score, 1e-12)

	assert.Empty(t, b.Search("...", 3))
}
