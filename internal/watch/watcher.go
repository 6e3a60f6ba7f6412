// Package watch re-runs the benchmark when the document folder changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragbench/internal/logging"
)

// DefaultDebounce is the quiet period before a change triggers a run.
const DefaultDebounce = 2 * time.Second

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Callback runs once per debounced batch of changes.
type Callback func(ctx context.Context) error

// Watcher watches one folder for document changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	fn       Callback
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
}

// New creates a Watcher on dir. A non-positive debounce uses DefaultDebounce.
func New(dir string, debounce time.Duration, fn Callback, logger *logging.Logger) (*Watcher, error) {
	if fn == nil {
		return nil, errors.New("callback cannot be nil")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		fn:       fn,
		logger:   logger.Named("watch"),
		watcher:  fw,
	}, nil
}

// Run processes events until ctx is cancelled. Callback errors are logged
// and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	w.logger.Info(ctx, "watching documents", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug(ctx, "document changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			if err := w.fn(ctx); err != nil {
				w.logger.Error(ctx, "triggered run failed", zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

// relevant keeps content changes to .txt and .md files.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".txt", ".md":
		return true
	}
	return false
}
