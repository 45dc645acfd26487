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

// UserTradeWriter consumes fills from the private connection and writes
// them to the user_trades table. Trade ids are unique, so replayed fills
// after a reconnect dedupe on conflict.
type UserTradeWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *queue.Queue[schema.UserTrade]
	db    DB

	batch       []schema.UserTrade
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewUserTradeWriter creates a new UserTradeWriter.
func NewUserTradeWriter(cfg WriterConfig, input *queue.Queue[schema.UserTrade], db DB, logger *slog.Logger) *UserTradeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserTradeWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]schema.UserTrade, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *UserTradeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("user trade writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains goroutines and performs a final flush.
func (w *UserTradeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping user trade writer")

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
		w.logger.Info("user trade writer stopped")
	case <-ctx.Done():
		w.logger.Warn("user trade writer stop timed out")
	}

	// Final flush runs on the caller's context; w.ctx is already cancelled.
	w.flush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *UserTradeWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *UserTradeWriter) consumeLoop() {
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

func (w *UserTradeWriter) flushLoop() {
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

func (w *UserTradeWriter) add(rec schema.UserTrade) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func (w *UserTradeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]schema.UserTrade, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	if w.cfg.OnFlush != nil {
		w.cfg.OnFlush("user_trades", len(batch)-conflicts)
	}

	w.logger.Debug("flushed user trades",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *UserTradeWriter) batchInsert(ctx context.Context, rows []schema.UserTrade) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO user_trades (trade_id, order_id, account_id, instrument_id, side, rate, quantity, trade_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (trade_id) DO NOTHING
		`, r.TradeID, r.OrderID, r.AccountID, r.InstrumentID, string(r.Side), r.Rate.String(), r.Quantity.String(), r.TradeTime)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
