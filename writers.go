package infinity

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infinity-exchange/infinity-go/internal/recorder"
)

// Writer is the lifecycle of one batch writer.
type Writer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Writers builds a batch writer per record queue, wired to the given
// database pool. User-facing writers are included even when the private
// connection is disabled; their queues just stay empty.
func (c *Client) Writers(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) []Writer {
	rcfg := recorder.WriterConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		OnFlush: func(table string, rows int) {
			c.metrics.RowsWritten.WithLabelValues(table).Add(float64(rows))
			c.metrics.BatchFlushes.WithLabelValues(table).Inc()
		},
	}
	return []Writer{
		recorder.NewBookWriter(rcfg, c.queues.OrderBooks, db, logger),
		recorder.NewTradeWriter(rcfg, c.queues.PublicTrades, db, logger),
		recorder.NewUserTradeWriter(rcfg, c.queues.UserTrades, db, logger),
		recorder.NewOrderWriter(rcfg, c.queues.UserOrders, db, logger),
	}
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}
