// Package benchmark turns a declarative question catalog into queries with
// gold sets of relevant chunk ids.
package benchmark

import (
	"github.com/fyrsmithlabs/ragbench/internal/ingest"
)

// Entry is one catalog question and the documents that answer it.
type Entry struct {
	Query    string   `yaml:"query" json:"query"`
	Sources  []string `yaml:"sources" json:"sources"`
	Fallback string   `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// Catalog is an ordered list of entries. Output queries keep this order.
type Catalog []Entry

// Query is a benchmark question with its gold set.
type Query struct {
	Text     string              `json:"query"`
	Relevant map[string]struct{} `json:"-"`
}

// RelevantIDs returns the gold chunk ids in corpus order.
func (q Query) RelevantIDs(chunks []ingest.Chunk) []string {
	var ids []string
	for _, c := range chunks {
		if _, ok := q.Relevant[c.ID]; ok {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Build resolves every catalog entry against the chunk corpus.
//
// The gold set is every chunk of every source document present in the
// corpus. When none is present the fallback document's chunks are used.
// Entries that still resolve to nothing are dropped.
func Build(chunks []ingest.Chunk, catalog Catalog) []Query {
	byDoc := make(map[string][]string)
	for _, c := range chunks {
		byDoc[c.DocID] = append(byDoc[c.DocID], c.ID)
	}

	queries := make([]Query, 0, len(catalog))
	for _, entry := range catalog {
		relevant := make(map[string]struct{})
		for _, src := range entry.Sources {
			for _, id := range byDoc[src] {
				relevant[id] = struct{}{}
			}
		}
		if len(relevant) == 0 && entry.Fallback != "" {
			for _, id := range byDoc[entry.Fallback] {
				relevant[id] = struct{}{}
			}
		}
		if len(relevant) == 0 {
			continue
		}
		queries = append(queries, Query{Text: entry.Query, Relevant: relevant})
	}
	return queries
}
