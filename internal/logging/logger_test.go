package logging

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, cfg, logger.config)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"json format", func(c *Config) { c.Format = "json" }, ""},
		{"bad format", func(c *Config) { c.Format = "text" }, "format must be"},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }, "at least one output"},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "x"} }, "key cannot be empty"},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }, "empty value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"trace", TraceLevel, false},
		{"TRACE", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"Warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRunID(context.Background(), "run_20260101_000000_abcdef123456")
	ctx = WithRetriever(ctx, "TFIDF")
	tl.Info(ctx, "run persisted", zap.Float64("mrr", 0.5))

	tl.AssertLogged(t, zapcore.InfoLevel, "run persisted")
	tl.AssertField(t, "run persisted", "run.id", "run_20260101_000000_abcdef123456")
	tl.AssertField(t, "run persisted", "run.retriever", "TFIDF")
	tl.AssertField(t, "run persisted", "mrr", 0.5)
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "run persisted")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Info(ctx, "i")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")

	entries := tl.All()
	require.Len(t, entries, 5)
	assert.Equal(t, TraceLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[4].Level)
}

func TestLogger_ChildLoggers(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("pipeline").With(zap.String("stage", "ingest"))
	child.Info(context.Background(), "loaded")

	entries := tl.FilterMessage("loaded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	assert.Equal(t, "ingest", entries[0].ContextMap()["stage"])
}

func TestContextFields_Trace(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "evaluate")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}

func TestIsConsoleSyncError(t *testing.T) {
	assert.True(t, isConsoleSyncError(syscall.EINVAL))
	assert.True(t, isConsoleSyncError(syscall.ENOTTY))
	assert.False(t, isConsoleSyncError(errors.New("disk full")))
}
