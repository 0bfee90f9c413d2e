package registry

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Open builds the configured backend. Remote backends are pinged, and the
// Postgres schema is created when missing.
func Open(ctx context.Context, backend, databaseURL, redisURL string, logger *slog.Logger) (Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch backend {
	case "", BackendMemory:
		logger.Info("fraud registry ready", "backend", BackendMemory)
		return NewMemory(), nil
	case BackendPostgres:
		pg, err := OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("fraud registry ready", "backend", BackendPostgres)
		return pg, nil
	case BackendRedis:
		r, err := OpenRedis(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("fraud registry ready", "backend", BackendRedis)
		return r, nil
	default:
		return nil, fmt.Errorf("registry: unknown backend %q", backend)
	}
}
