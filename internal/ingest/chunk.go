// Package ingest loads source documents and splits them into retrievable chunks.
package ingest

import (
	"fmt"
	"strings"
)

// Document is a source document identified by its file stem.
type Document struct {
	ID   string
	Text string
}

// Chunk is a contiguous window of words from a single document.
type Chunk struct {
	ID    string `json:"id"`
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

// ChunkID builds the identifier of the seq-th chunk of a document.
func ChunkID(docID string, seq int) string {
	return fmt.Sprintf("%s::c%03d", docID, seq)
}

// ChunkText splits text into overlapping windows of chunkSize words.
//
// Consecutive windows start chunkSize-overlap words apart. The window that
// reaches the last word is emitted once and iteration stops, so a short
// document yields a single chunk. Out-of-range parameters are clamped so the
// step is always at least one word.
func ChunkText(text string, chunkSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunkSize, overlap = clampWindow(chunkSize, overlap)
	step := chunkSize - overlap

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

func clampWindow(chunkSize, overlap int) (int, int) {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return chunkSize, overlap
}

// ChunkDocuments chunks every document in order and assigns chunk ids.
// Chunk order follows document order, then position within the document.
func ChunkDocuments(docs []Document, chunkSize, overlap int) []Chunk {
	var out []Chunk
	for _, doc := range docs {
		for i, text := range ChunkText(doc.Text, chunkSize, overlap) {
			out = append(out, Chunk{
				ID:    ChunkID(doc.ID, i),
				DocID: doc.ID,
				Text:  text,
			})
		}
	}
	return out
}
