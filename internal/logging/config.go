package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level     `koanf:"level"`
	Format string            `koanf:"format"`
	Output OutputConfig      `koanf:"output"`
	Caller bool              `koanf:"caller"`
	Fields map[string]string `koanf:"fields"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// NewDefaultConfig returns config suited to interactive CLI use.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Output: OutputConfig{Stderr: true},
		Fields: map[string]string{
			"service": "ragbench",
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stderr or otel)")
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
