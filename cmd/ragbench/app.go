package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragbench/internal/benchmark"
	"github.com/fyrsmithlabs/ragbench/internal/config"
	"github.com/fyrsmithlabs/ragbench/internal/logging"
	"github.com/fyrsmithlabs/ragbench/internal/pipeline"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
	"github.com/fyrsmithlabs/ragbench/internal/telemetry"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	store  runstore.Store
}

// setup loads configuration and initializes logging, telemetry and the run store.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSection(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if degraded, cause := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(cause))
	}

	store, err := runstore.Open(ctx, cfg.Store)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	logger.Debug(ctx, "ragbench initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("docs", cfg.Docs.Dir),
		zap.Bool("telemetry", tel.Enabled()))

	return &app{cfg: cfg, logger: logger, tel: tel, store: store}, nil
}

// initLogger builds the logger described by the logging section.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = cfg.Logging.OTEL
	lc.Fields["version"] = version

	if cfg.Logging.OTEL {
		return logging.NewLogger(lc, tel.LoggerProvider())
	}
	return logging.NewLogger(lc, nil)
}

// Close releases the store and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// newRunner builds a pipeline runner from the evaluation settings.
func (a *app) newRunner() (*pipeline.Runner, error) {
	var catalog benchmark.Catalog
	if p := a.cfg.Evaluation.CatalogPath; p != "" {
		c, err := benchmark.LoadCatalog(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		catalog = c
	}

	return pipeline.NewRunner(a.store, pipeline.Options{
		DocsDir:    a.cfg.Docs.Dir,
		ChunkSize:  a.cfg.Chunking.ChunkSize,
		Overlap:    a.cfg.Chunking.Overlap,
		KRecall:    a.cfg.Evaluation.KRecall,
		KRank:      a.cfg.Evaluation.KRank,
		Workers:    a.cfg.Evaluation.Workers,
		Retrievers: a.cfg.Evaluation.Retrievers,
		Catalog:    catalog,
		Notes:      a.cfg.Evaluation.Notes,
	}, a.logger, a.tel)
}

// withApp runs fn with an initialized app and always closes it.
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
