package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infinity-exchange/infinity-go/internal/queue"
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

// OrderWriter consumes order updates from the private connection and
// upserts the latest state into the user_orders table.
type OrderWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *queue.Queue[schema.UserOrder]
	db    DB

	batch       []schema.UserOrder
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewOrderWriter creates a new OrderWriter.
func NewOrderWriter(cfg WriterConfig, input *queue.Queue[schema.UserOrder], db DB, logger *slog.Logger) *OrderWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]schema.UserOrder, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *OrderWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("order writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains goroutines and performs a final flush.
func (w *OrderWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping order writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("order writer stopped")
	case <-ctx.Done():
		w.logger.Warn("order writer stop timed out")
	}

	// Final flush runs on the caller's context; w.ctx is already cancelled.
	w.flush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *OrderWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *OrderWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			rec, ok := w.input.TryPop()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			w.add(rec)
		}
	}
}

func (w *OrderWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *OrderWriter) add(rec schema.UserOrder) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func (w *OrderWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]schema.UserOrder, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	if w.cfg.OnFlush != nil {
		w.cfg.OnFlush("user_orders", len(batch))
	}

	w.logger.Debug("flushed user orders",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *OrderWriter) batchInsert(ctx context.Context, rows []schema.UserOrder) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		var updateTime any
		if !r.UpdateTime.IsZero() {
			updateTime = r.UpdateTime
		}
		batch.Queue(`
			INSERT INTO user_orders (order_id, client_order_id, order_type, account_id, instrument_id,
				market_type, rate, quantity, side, filled_quantity, create_time, status, update_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (order_id) DO UPDATE SET
				filled_quantity = EXCLUDED.filled_quantity,
				status = EXCLUDED.status,
				update_time = EXCLUDED.update_time
		`, r.OrderID, r.ClientOrderID, string(r.OrderType), r.AccountID, r.InstrumentID,
			string(r.MarketType), r.Rate.String(), r.Quantity.String(), string(r.Side),
			r.FilledQuantity.String(), r.CreateTime, string(r.Status), updateTime)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
