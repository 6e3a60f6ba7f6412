package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragbench/internal/logging"
)

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := New(t.TempDir(), time.Second, nil, nil)
	assert.ErrorContains(t, err, "callback cannot be nil")

	_, err = New(filepath.Join(t.TempDir(), "missing"), time.Second, noop, nil)
	assert.Error(t, err)

	w, err := New(t.TempDir(), 0, noop, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)
	require.NoError(t, w.watcher.Close())
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write markdown", fsnotify.Event{Name: "a.md", Op: fsnotify.Write}, true},
		{"create text", fsnotify.Event{Name: "docs/b.TXT", Op: fsnotify.Create}, true},
		{"remove text", fsnotify.Event{Name: "c.txt", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "a.md", Op: fsnotify.Chmod}, false},
		{"other extension", fsnotify.Event{Name: "a.pdf", Op: fsnotify.Write}, false},
		{"editor swap file", fsnotify.Event{Name: ".a.md.swp", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	tl := logging.NewTestLogger()

	w, err := New(dir, 150*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("store unavailable")
	}, tl.Logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("version"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte("x"), 0o600))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
	tl.AssertLogged(t, zapcore.ErrorLevel, "triggered run failed")
}
