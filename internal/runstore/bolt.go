package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	boltRunsBucket  = []byte("runs")
	boltIndexBucket = []byte("run_ids")
)

// boltRecord is the stored form of a run. Config is kept as a string so
// malformed documents round-trip unchanged.
type boltRecord struct {
	ID        string   `json:"run_id"`
	CreatedAt string   `json:"created_at"`
	Name      string   `json:"name"`
	Notes     string   `json:"notes"`
	Retriever string   `json:"retriever"`
	Config    string   `json:"config"`
	Metrics   []Metric `json:"metrics"`
}

// BoltStore keeps runs in a bbolt file, keyed by creation time and run id.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{boltRunsBucket, boltIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func boltKey(createdAt, id string) []byte {
	return []byte(createdAt + "|" + id)
}

// AppendRun stores the run and its metrics in a single update transaction.
func (s *BoltStore) AppendRun(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	rec := boltRecord{
		ID:        run.ID,
		CreatedAt: formatTime(run.CreatedAt),
		Name:      run.Name,
		Notes:     run.Notes,
		Retriever: run.Retriever,
		Config:    configString(run.Config),
		Metrics:   run.Metrics,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(boltIndexBucket)
		if ids.Get([]byte(run.ID)) != nil {
			return fmt.Errorf("%s: %w", run.ID, ErrDuplicateRun)
		}
		key := boltKey(rec.CreatedAt, rec.ID)
		if err := tx.Bucket(boltRunsBucket).Put(key, value); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
		return ids.Put([]byte(run.ID), key)
	})
}

// scan walks runs newest first until fn returns false.
func (s *BoltStore) scan(ctx context.Context, fn func(rec boltRecord) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltRunsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt run record %s: %w", k, err)
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

// RecentByMetric returns the newest runs carrying metric.
func (s *BoltStore) RecentByMetric(ctx context.Context, metric string, limit int) ([]HistoryRow, error) {
	var out []HistoryRow
	var convErr error
	err := s.scan(ctx, func(rec boltRecord) bool {
		if len(out) >= limit {
			return false
		}
		for _, m := range rec.Metrics {
			if m.Name != metric {
				continue
			}
			created, err := parseTime(rec.CreatedAt)
			if err != nil {
				convErr = fmt.Errorf("run %s has invalid created_at: %w", rec.ID, err)
				return false
			}
			out = append(out, HistoryRow{
				RunID:      rec.ID,
				CreatedAt:  created,
				ConfigJSON: rec.Config,
				Value:      m.Value,
			})
			break
		}
		return true
	})
	if err == nil {
		err = convErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metric history: %w", err)
	}
	return out, nil
}

// ListRuns returns the newest runs.
func (s *BoltStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	var convErr error
	err := s.scan(ctx, func(rec boltRecord) bool {
		if len(runs) >= limit {
			return false
		}
		created, err := parseTime(rec.CreatedAt)
		if err != nil {
			convErr = fmt.Errorf("run %s has invalid created_at: %w", rec.ID, err)
			return false
		}
		runs = append(runs, Run{
			ID:        rec.ID,
			CreatedAt: created,
			Name:      rec.Name,
			Notes:     rec.Notes,
			Retriever: rec.Retriever,
			Config:    json.RawMessage(rec.Config),
			Metrics:   rec.Metrics,
		})
		return true
	})
	if err == nil {
		err = convErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close closes the bolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
