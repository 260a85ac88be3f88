package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultWriterConfig returns the default batching settings.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Flushes   int64 `json:"flushes"`
	Errors    int64 `json:"errors"`
}

// BatchSender sends queued statements in one round trip. *pgxpool.Pool
// satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Execer runs a statement without returning rows.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Querier runs a query returning rows.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
