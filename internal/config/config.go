// Package config provides configuration loading for ragbench.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// RAGBENCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragbench/internal/regression"
	"github.com/fyrsmithlabs/ragbench/internal/retrieval"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
)

// Config holds the complete ragbench configuration.
type Config struct {
	Docs       DocsConfig         `koanf:"docs" json:"docs"`
	Chunking   ChunkingConfig     `koanf:"chunking" json:"chunking"`
	Evaluation EvaluationConfig   `koanf:"evaluation" json:"evaluation"`
	Store      runstore.Config    `koanf:"store" json:"store"`
	Regression regression.Options `koanf:"regression" json:"regression"`
	Server     ServerConfig       `koanf:"server" json:"server"`
	Logging    LoggingConfig      `koanf:"logging" json:"logging"`
	Telemetry  TelemetryConfig    `koanf:"telemetry" json:"telemetry"`
}

// DocsConfig locates the document folder.
type DocsConfig struct {
	Dir string `koanf:"dir" json:"dir"`
}

// ChunkingConfig sets the word window used by the chunker.
type ChunkingConfig struct {
	ChunkSize int `koanf:"chunk_size" json:"chunk_size"`
	Overlap   int `koanf:"overlap" json:"overlap"`
}

// EvaluationConfig controls ranking depth and which strategies run.
type EvaluationConfig struct {
	KRecall    int      `koanf:"k_recall" json:"k_recall"`
	KRank      int      `koanf:"k_rank" json:"k_rank"`
	Workers    int      `koanf:"workers" json:"workers"`
	Retrievers []string `koanf:"retrievers" json:"retrievers"`
	// CatalogPath points at a YAML query catalog; empty uses the built-in one.
	CatalogPath string `koanf:"catalog_path" json:"catalog_path"`
	Notes       string `koanf:"notes" json:"notes"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host" json:"host"`
	Port            int      `koanf:"port" json:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds log settings. Level is parsed by the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
	OTEL   bool   `koanf:"otel" json:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled" json:"enabled"`
	Endpoint       string   `koanf:"endpoint" json:"endpoint"`
	Protocol       string   `koanf:"protocol" json:"protocol"`
	ServiceName    string   `koanf:"service_name" json:"service_name"`
	Insecure       bool     `koanf:"insecure" json:"insecure"`
	SampleRate     float64  `koanf:"sample_rate" json:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval" json:"export_interval"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Docs:     DocsConfig{Dir: "data/docs"},
		Chunking: ChunkingConfig{ChunkSize: 120, Overlap: 25},
		Evaluation: EvaluationConfig{
			KRecall:    5,
			KRank:      10,
			Retrievers: retrieval.Names(),
			Notes:      "Docs-based benchmark run",
		},
		Store:      runstore.Config{Provider: "sqlite", Path: "runs/ragbench.db"},
		Regression: regression.DefaultOptions(),
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			ServiceName:    "ragbench",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for values the pipeline cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.Docs.Dir == "" {
		errs = append(errs, errors.New("docs.dir is required"))
	}
	if c.Chunking.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, chunk_size), got %d", c.Chunking.Overlap))
	}
	if c.Evaluation.KRecall < 1 {
		errs = append(errs, fmt.Errorf("evaluation.k_recall must be positive, got %d", c.Evaluation.KRecall))
	}
	if c.Evaluation.KRank < 1 {
		errs = append(errs, fmt.Errorf("evaluation.k_rank must be positive, got %d", c.Evaluation.KRank))
	}
	if c.Evaluation.Workers < 0 {
		errs = append(errs, fmt.Errorf("evaluation.workers cannot be negative, got %d", c.Evaluation.Workers))
	}
	if len(c.Evaluation.Retrievers) == 0 {
		errs = append(errs, errors.New("evaluation.retrievers must name at least one strategy"))
	}
	for _, name := range c.Evaluation.Retrievers {
		if !retrieval.Supported(name) {
			errs = append(errs, fmt.Errorf("evaluation.retrievers: unsupported strategy %q", name))
		}
	}
	switch strings.ToLower(c.Store.Provider) {
	case "", "sqlite", "bolt":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for file-backed stores"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.provider %q is not supported", c.Store.Provider))
	}
	if c.Regression.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("regression.tolerance cannot be negative, got %f", c.Regression.Tolerance))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if f := c.Logging.Format; f != "" && f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", f))
	}

	return errors.Join(errs...)
}
