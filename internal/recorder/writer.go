package recorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the writers use.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds shared batch writer settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration

	// OnFlush, when set, is called after each successful flush with the
	// target table name and the number of rows written.
	OnFlush func(table string, rows int)
}

// WriterMetrics tracks writer throughput.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}
