package runstore

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and locates a store backend.
type Config struct {
	// Provider is "sqlite" (default), "bolt" or "memory".
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// Open creates the store selected by cfg.Provider.
func Open(ctx context.Context, cfg Config) (Store, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = "sqlite"
	}

	switch provider {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return OpenSQLite(ctx, cfg.Path)
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("bolt store requires a path")
		}
		return OpenBolt(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: sqlite, bolt, memory)", ErrUnknownProvider, cfg.Provider)
	}
}
