package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infinity-exchange/infinity-go/internal/queue"
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

// BookWriter consumes order book frames and writes them to the order_books
// table. Levels are stored as JSONB arrays of [rate, quantity] pairs.
type BookWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *queue.Queue[schema.OrderBook]
	db    DB

	batch       []schema.OrderBook
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewBookWriter creates a new BookWriter.
func NewBookWriter(cfg WriterConfig, input *queue.Queue[schema.OrderBook], db DB, logger *slog.Logger) *BookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]schema.OrderBook, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *BookWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("book writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains goroutines and performs a final flush.
func (w *BookWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping book writer")

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
		w.logger.Info("book writer stopped")
	case <-ctx.Done():
		w.logger.Warn("book writer stop timed out")
	}

	// Final flush runs on the caller's context; w.ctx is already cancelled.
	w.flush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *BookWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *BookWriter) consumeLoop() {
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

func (w *BookWriter) flushLoop() {
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

func (w *BookWriter) add(rec schema.OrderBook) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func (w *BookWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]schema.OrderBook, 0, w.cfg.BatchSize)
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
		w.cfg.OnFlush("order_books", len(batch))
	}

	w.logger.Debug("flushed order books",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *BookWriter) batchInsert(ctx context.Context, rows []schema.OrderBook) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		bids, err := levelsJSON(r.Bids)
		if err != nil {
			return err
		}
		asks, err := levelsJSON(r.Asks)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO order_books (instrument_id, update_time, bids, asks)
			VALUES ($1, $2, $3, $4)
		`, r.InstrumentID, r.UpdateTime, bids, asks)
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

func levelsJSON(levels []schema.BookLevel) ([]byte, error) {
	pairs := make([][2]string, 0, len(levels))
	for _, l := range levels {
		pairs = append(pairs, [2]string{l.Rate.String(), l.Quantity.String()})
	}
	return json.Marshal(pairs)
}
