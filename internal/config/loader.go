package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment variables read by LoadWithFile.
	EnvPrefix = "RAGBENCH_"

	// DefaultFile is read from the working directory when no path is given.
	DefaultFile = "ragbench.yaml"
)

// defaultYAML mirrors Default() so file and env layers merge key by key.
const defaultYAML = `
docs:
  dir: data/docs
chunking:
  chunk_size: 120
  overlap: 25
evaluation:
  k_recall: 5
  k_rank: 10
  workers: 0
  retrievers: [BM25, TFIDF]
  catalog_path: ""
  notes: Docs-based benchmark run
store:
  provider: sqlite
  path: runs/ragbench.db
regression:
  metric: MRR@10
  retriever: TFIDF
  min_history: 3
  tolerance: 0.02
  window: 50
server:
  host: 127.0.0.1
  port: 8080
  shutdown_timeout: 10s
logging:
  level: info
  format: console
  otel: false
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  service_name: ragbench
  insecure: true
  sample_rate: 1.0
  export_interval: 15s
`

// LoadWithFile loads configuration from defaults, a YAML file and the environment.
//
// Precedence (highest to lowest):
//  1. RAGBENCH_* environment variables
//  2. YAML config file
//  3. Default()
//
// An empty configPath reads ./ragbench.yaml when it exists. An explicit path
// that does not exist is an error.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	RAGBENCH_CHUNKING_CHUNK_SIZE -> chunking.chunk_size
//	RAGBENCH_STORE_PROVIDER      -> store.provider
//	RAGBENCH_EVALUATION_RETRIEVERS=BM25,TFIDF
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultFile
	}
	content, err := readConfigFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// listKeys are decoded from comma-separated environment values.
var listKeys = map[string]bool{
	"evaluation.retrievers": true,
}

// envValue maps a variable to its koanf key and splits list values on commas.
func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// envKey maps RAGBENCH_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates through the descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects directories, oversized files and
// world-writable files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
