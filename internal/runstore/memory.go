package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs []Run
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendRun stores a copy of run.
func (s *MemoryStore) AppendRun(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == run.ID {
			return fmt.Errorf("%s: %w", run.ID, ErrDuplicateRun)
		}
	}
	cp := *run
	cp.Config = append([]byte(nil), run.Config...)
	cp.Metrics = append([]Metric(nil), run.Metrics...)
	s.runs = append(s.runs, cp)
	return nil
}

// newestFirst returns runs ordered by creation time, later inserts first on ties.
func (s *MemoryStore) newestFirst() []Run {
	out := make([]Run, len(s.runs))
	for i, r := range s.runs {
		out[len(s.runs)-1-i] = r
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RecentByMetric returns the newest runs carrying metric.
func (s *MemoryStore) RecentByMetric(ctx context.Context, metric string, limit int) ([]HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []HistoryRow
	for _, r := range s.newestFirst() {
		if len(out) >= limit {
			break
		}
		if v, ok := r.Metric(metric); ok {
			out = append(out, HistoryRow{
				RunID:      r.ID,
				CreatedAt:  r.CreatedAt,
				ConfigJSON: configString(r.Config),
				Value:      v,
			})
		}
	}
	return out, nil
}

// ListRuns returns the newest runs.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.newestFirst()
	if limit >= 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
