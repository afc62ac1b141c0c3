package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// ReceiptInserter writes receipt batches to an archive.
type ReceiptInserter interface {
	InsertBatch(ctx context.Context, receipts []*models.NotificationDelivery) error
}

// ReceiptBuffer buffers receipts for batch archiving.
// It flushes on either batch size threshold or time interval,
// whichever comes first. When the buffer reaches max capacity
// the oldest receipts are dropped.
type ReceiptBuffer struct {
	archive       ReceiptInserter
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	maxSize       int

	mu       sync.Mutex
	buffer   []*models.NotificationDelivery
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

// ReceiptBufferConfig holds ReceiptBuffer configuration.
type ReceiptBufferConfig struct {
	// BatchSize is the number of receipts to trigger a flush.
	BatchSize int

	// FlushInterval is the time interval to trigger a flush.
	FlushInterval time.Duration

	// MaxSize is the maximum buffer size. When reached, oldest receipts are dropped.
	MaxSize int
}

// NewReceiptBuffer creates a buffer and starts its flush loop.
func NewReceiptBuffer(archive ReceiptInserter, config ReceiptBufferConfig, logger *zap.Logger) *ReceiptBuffer {
	if config.BatchSize == 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxSize == 0 {
		config.MaxSize = 50000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &ReceiptBuffer{
		archive:       archive,
		logger:        logger.With(zap.String("component", "receipt_buffer")),
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		buffer:        make([]*models.NotificationDelivery, 0, config.BatchSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go b.flushLoop()
	return b
}

// Add queues a receipt. A flush is triggered inline when the batch is full;
// its error is logged, the receipts stay queued.
func (b *ReceiptBuffer) Add(d *models.NotificationDelivery) {
	if b.stopped.Load() {
		return
	}

	b.mu.Lock()
	if len(b.buffer) >= b.maxSize {
		toDrop := len(b.buffer) - b.maxSize + 1
		b.buffer = b.buffer[toDrop:]
		b.dropped.Add(int64(toDrop))
		metrics.ArchiveDroppedTotal.Add(float64(toDrop))
		b.logger.Warn("receipt buffer overflow, dropped oldest receipts", zap.Int("dropped", toDrop))
	}
	b.buffer = append(b.buffer, d)
	pending := len(b.buffer)
	b.mu.Unlock()
	metrics.ArchivePending.Set(float64(pending))

	if pending >= b.batchSize {
		if err := b.Flush(); err != nil {
			b.logger.Warn("receipt flush failed", zap.Error(err))
		}
	}
}

// Flush forces a flush of the current buffer.
func (b *ReceiptBuffer) Flush() error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	toFlush := b.buffer
	b.buffer = make([]*models.NotificationDelivery, 0, b.batchSize)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	metrics.ArchiveFlushesTotal.Inc()
	if err := b.archive.InsertBatch(ctx, toFlush); err != nil {
		metrics.ArchiveFlushErrors.Inc()
		// Requeue at the front so they're flushed next
		b.mu.Lock()
		b.buffer = append(toFlush, b.buffer...)
		if len(b.buffer) > b.maxSize {
			excess := len(b.buffer) - b.maxSize
			b.dropped.Add(int64(excess))
			metrics.ArchiveDroppedTotal.Add(float64(excess))
			b.buffer = b.buffer[excess:]
		}
		metrics.ArchivePending.Set(float64(len(b.buffer)))
		b.mu.Unlock()
		return err
	}

	b.flushed.Add(1)
	b.inserted.Add(int64(len(toFlush)))
	b.mu.Lock()
	metrics.ArchivePending.Set(float64(len(b.buffer)))
	b.mu.Unlock()
	return nil
}

func (b *ReceiptBuffer) flushLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.logger.Warn("receipt flush failed", zap.Error(err))
			}
		case <-b.stopCh:
			if err := b.Flush(); err != nil {
				b.logger.Error("final receipt flush failed", zap.Error(err))
			}
			return
		}
	}
}

// Close stops the buffer and flushes remaining receipts.
func (b *ReceiptBuffer) Close() error {
	if b.stopped.Swap(true) {
		return nil
	}
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Stats returns buffer statistics.
func (b *ReceiptBuffer) Stats() ReceiptBufferStats {
	b.mu.Lock()
	pending := len(b.buffer)
	b.mu.Unlock()

	return ReceiptBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}

// ReceiptBufferStats contains buffer statistics.
type ReceiptBufferStats struct {
	Pending  int   `json:"pending"`
	Dropped  int64 `json:"dropped"`
	Flushed  int64 `json:"flushed"`
	Inserted int64 `json:"inserted"`
}
