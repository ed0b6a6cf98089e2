package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver string // memory (default), sqlite, redis
	DSN    string
	// History caps stored snapshots per feed key; <= 0 keeps DefaultHistory.
	History int
}

const DefaultHistory = 100

// Open constructs a Store based on the given configuration.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	history := cfg.History
	if history <= 0 {
		history = DefaultHistory
	}
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		logger.Info("storage: using in-memory backend", "history", history)
		return NewMemory(history), nil

	case "sqlite", "sqlite3":
		logger.Info("storage: using sqlite backend", "dsn", cfg.DSN, "history", history)
		return OpenSQLite(ctx, cfg.DSN, history)

	case "redis":
		logger.Info("storage: using redis backend", "history", history)
		return OpenRedis(ctx, cfg.DSN, history)

	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDriver, drv)
	}
}
