// Package metrics computes ranking-quality scores for a single query.
//
// All functions take the gold set of relevant ids and the ranked ids a
// retriever returned, best first. Only the first k ranked ids are
// considered; a shorter ranking is used as-is. k <= 0 scores 0.
package metrics

import (
	"fmt"
	"math"
	"sort"
)

// Metric kinds as they appear in persisted metric names.
const (
	KindRecall = "Recall"
	KindMRR    = "MRR"
	KindNDCG   = "nDCG"
)

// Name returns the persisted name of a metric at cutoff k, e.g. "MRR@10".
func Name(kind string, k int) string {
	return fmt.Sprintf("%s@%d", kind, k)
}

// Set builds a relevance set from ids.
func Set(ids ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func topK(retrieved []string, k int) []string {
	if k <= 0 {
		return nil
	}
	if k > len(retrieved) {
		k = len(retrieved)
	}
	return retrieved[:k]
}

// RecallAtK is the fraction of relevant ids found in the top k.
//
// Returns 0 when relevant is empty. Repeated ids in the ranking count once.
func RecallAtK(relevant map[string]struct{}, retrieved []string, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, id := range topK(retrieved, k) {
		if _, ok := relevant[id]; ok {
			seen[id] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(relevant))
}

// MRRAtK is the reciprocal rank of the first relevant id in the top k,
// or 0 if none appears.
func MRRAtK(relevant map[string]struct{}, retrieved []string, k int) float64 {
	for i, id := range topK(retrieved, k) {
		if _, ok := relevant[id]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// NDCGAtK is binary-gain normalized discounted cumulative gain.
//
// DCG sums 1/log2(rank+1) over relevant ids in the top k. The ideal DCG
// ranks the relevant ids first, taking at most k of them in lexicographic
// order. Because gain is binary the order does not change the ideal value,
// but it pins which ids are considered. Returns 0 when the ideal is 0.
func NDCGAtK(relevant map[string]struct{}, retrieved []string, k int) float64 {
	dcg := 0.0
	for i, id := range topK(retrieved, k) {
		if _, ok := relevant[id]; ok {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}

	ideal := make([]string, 0, len(relevant))
	for id := range relevant {
		ideal = append(ideal, id)
	}
	sort.Strings(ideal)

	idcg := 0.0
	for i := range topK(ideal, k) {
		idcg += 1 / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// Round4 rounds v to four decimal places, the precision runs are stored at.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
