package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// BatchWriterConfig configures a BatchWriter.
type BatchWriterConfig struct {
	// MaxBatch triggers an immediate flush when the queue reaches this
	// size. Default: 50
	MaxBatch int

	// FlushInterval is the periodic auto-flush cadence. Default: 2s
	FlushInterval time.Duration

	// Logger receives flush failure logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultBatchWriterConfig provides reasonable defaults.
var DefaultBatchWriterConfig = BatchWriterConfig{
	MaxBatch:      50,
	FlushInterval: 2 * time.Second,
}

// BatchWriter queues events and writes them to a Store in batches to
// bound write amplification. A failed flush re-queues the batch at the
// front, preserving order for the next attempt.
type BatchWriter struct {
	store Store
	cfg   BatchWriterConfig

	mu    sync.Mutex
	queue []*event.Event

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewBatchWriter creates a writer flushing into the given store and
// starts its flush loop. Call Close to flush remaining events and stop.
func NewBatchWriter(s Store, cfg BatchWriterConfig) *BatchWriter {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultBatchWriterConfig.MaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultBatchWriterConfig.FlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &BatchWriter{
		store:  s,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue adds an event to the pending batch.
func (w *BatchWriter) Enqueue(evt *event.Event) {
	w.mu.Lock()
	w.queue = append(w.queue, evt)
	full := len(w.queue) >= w.cfg.MaxBatch
	w.mu.Unlock()

	if full {
		w.Flush(context.Background())
	}
}

// Flush writes all pending events as one batch. On failure the batch is
// put back at the front of the queue and the error is returned.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	if err := w.store.SaveBatch(ctx, batch); err != nil {
		// Requeue at the front so order is preserved for the next attempt.
		w.mu.Lock()
		w.queue = append(batch, w.queue...)
		w.mu.Unlock()

		w.cfg.Logger.Error("event batch flush failed",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Pending returns the number of queued, unflushed events.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close stops the flush loop after a final flush attempt.
func (w *BatchWriter) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	return w.Flush(context.Background())
}

func (w *BatchWriter) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = w.Flush(context.Background())
		case <-w.stopCh:
			return
		}
	}
}
