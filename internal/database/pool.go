package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/skysense/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ConnectWithRetry calls Connect up to cfg.ConnectRetries times, waiting
// cfg.RetryInterval between attempts. The last error is returned when every
// attempt fails.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(cfg.ConnectRetries, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := Connect(ctx, cfg.DBConfig)
		if err == nil {
			logger.Info("database connected",
				"host", cfg.Host,
				"database", cfg.Name,
				"attempt", attempt,
			)
			return pool, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		logger.Warn("database connect failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", cfg.RetryInterval,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, fmt.Errorf("connect database after %d attempts: %w", attempts, lastErr)
}
