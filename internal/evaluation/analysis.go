package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ragbench/internal/benchmark"
	"github.com/fyrsmithlabs/ragbench/internal/retrieval"
)

const previewLen = 220

// LabelCurrent marks chunks from documents with no known caveat.
const LabelCurrent = "CURRENT"

// docLabels flags distractor documents that often outrank the right answer.
var docLabels = map[string]string{
	"api_style_legacy":            "LEGACY/OUTDATED",
	"api_errors_legacy":           "LEGACY/OUTDATED",
	"legacy_logging_guidelines":   "LEGACY/OUTDATED",
	"logging_minimal_legacy":      "LEGACY/OUTDATED",
	"incident_calendar_policy":    "POLICY (NOT INCIDENT STEPS)",
	"operations_policy":           "POLICY (NOT INCIDENT STEPS)",
	"logging_data_platform":       "BATCH LOGGING (NOT API TRACING)",
	"security_logging_exceptions": "EXCEPTION POLICY",
}

// DocLabel returns the caveat label of the document a chunk belongs to.
func DocLabel(chunkID string) string {
	docID, _, _ := strings.Cut(chunkID, "::")
	if label, ok := docLabels[docID]; ok {
		return label
	}
	return LabelCurrent
}

// AnalysisRow is one ranked chunk in a failure analysis.
type AnalysisRow struct {
	Rank     int     `json:"rank"`
	ChunkID  string  `json:"chunk_id"`
	Score    float64 `json:"score"`
	Preview  string  `json:"preview"`
	Relevant bool    `json:"is_relevant"`
	Label    string  `json:"label"`
}

// Analysis explains how a single query was ranked.
type Analysis struct {
	Query       string        `json:"query"`
	K           int           `json:"k"`
	RelevantIDs []string      `json:"relevant_ids"`
	Rows        []AnalysisRow `json:"retrieved"`
	Hit         bool          `json:"hit"`
	HitRank     int           `json:"hit_rank,omitempty"`
	Why         string        `json:"why,omitempty"`
}

// Analyze ranks one query and, on a miss, explains it by the word overlap
// between the query and the first relevant chunk.
func Analyze(r retrieval.Retriever, corpus retrieval.Corpus, q benchmark.Query, k int) Analysis {
	relevant := make([]string, 0, len(q.Relevant))
	for id := range q.Relevant {
		relevant = append(relevant, id)
	}
	sort.Strings(relevant)

	a := Analysis{Query: q.Text, K: k, RelevantIDs: relevant}
	for i, res := range r.Search(q.Text, k) {
		_, isRel := q.Relevant[res.ID]
		if isRel && !a.Hit {
			a.Hit = true
			a.HitRank = i + 1
		}
		text, _ := corpus.Text(res.ID)
		a.Rows = append(a.Rows, AnalysisRow{
			Rank:     i + 1,
			ChunkID:  res.ID,
			Score:    res.Score,
			Preview:  preview(text),
			Relevant: isRel,
			Label:    DocLabel(res.ID),
		})
	}

	if !a.Hit && len(relevant) > 0 {
		text, _ := corpus.Text(relevant[0])
		a.Why = explainMiss(q.Text, text)
	}
	return a
}

func explainMiss(query, relevantText string) string {
	docTerms := termSet(relevantText)
	var overlap []string
	for term := range termSet(query) {
		if _, ok := docTerms[term]; ok {
			overlap = append(overlap, term)
		}
	}
	sort.Strings(overlap)

	if len(overlap) == 0 {
		return "Low lexical overlap: query terms do not appear in the relevant chunk, and lexical retrievers rely on term matches. Try synonyms, different chunking or hybrid retrieval."
	}
	return fmt.Sprintf("Some overlap exists (%s), but other chunks scored higher. Try smaller chunks or more distinctive terms.",
		strings.Join(overlap, ", "))
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(text) {
		if t := strings.ToLower(strings.Trim(f, ".,!?;:()[]{}\"'")); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "..."
}
