package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoDocuments is returned when a source yields nothing to index.
var ErrNoDocuments = errors.New("no documents found")

// Source provides the documents of a corpus.
type Source interface {
	Load(ctx context.Context) ([]Document, error)
}

// supportedExtensions lists the file types FolderSource reads.
var supportedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// FolderSource reads .txt and .md files from a single directory.
type FolderSource struct {
	Dir string
}

// NewFolderSource creates a FolderSource for dir.
func NewFolderSource(dir string) *FolderSource {
	return &FolderSource{Dir: dir}
}

// Load reads every supported file, sorted by path. The document id is the
// file name without its extension.
func (s *FolderSource) Load(ctx context.Context) ([]Document, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("docs folder %s: %w", s.Dir, ErrNoDocuments)
		}
		return nil, fmt.Errorf("failed to read docs folder %s: %w", s.Dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(s.Dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no .txt or .md files in %s: %w", s.Dir, ErrNoDocuments)
	}

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		name := filepath.Base(path)
		docs = append(docs, Document{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			Text: strings.TrimSpace(string(content)),
		})
	}
	return docs, nil
}

// StaticSource serves a fixed set of documents.
type StaticSource []Document

// Load returns a copy of the documents.
func (s StaticSource) Load(ctx context.Context) ([]Document, error) {
	if len(s) == 0 {
		return nil, ErrNoDocuments
	}
	out := make([]Document, len(s))
	copy(out, s)
	return out, nil
}

// Ingest loads documents from src and chunks them.
func Ingest(ctx context.Context, src Source, chunkSize, overlap int) ([]Chunk, []Document, error) {
	docs, err := src.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ChunkDocuments(docs, chunkSize, overlap), docs, nil
}
