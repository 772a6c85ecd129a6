package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// Batcher defaults.
const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 10 * time.Second
)

// Batcher buffers warehouse rows and flushes them when the batch fills or
// the flush interval elapses, whichever comes first. A batch-full flush runs
// on the goroutine that called Add; interval flushes run on the batcher's
// own goroutine.
type Batcher struct {
	sink     Sink
	size     int
	interval time.Duration
	logger   log.Logger
	metrics  *Metrics

	mu     sync.Mutex
	buf    []Row
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewBatcher creates and starts a Batcher. Zero size/interval use defaults.
func NewBatcher(sink Sink, size int, interval time.Duration, logger log.Logger) *Batcher {
	if sink == nil {
		panic(xerrors.New("warehouse: nil sink"))
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	b := &Batcher{
		sink:     sink,
		size:     size,
		interval: interval,
		logger:   logger,
		buf:      make([]Row, 0, size),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

// WithMetrics attaches warehouse metrics.
func (b *Batcher) WithMetrics(m *Metrics) *Batcher {
	b.metrics = m
	return b
}

// Add buffers one row, triggering an immediate flush when the batch fills.
func (b *Batcher) Add(row Row) {
	b.mu.Lock()
	b.buf = append(b.buf, row)
	full := len(b.buf) >= b.size
	var batch []Row
	if full {
		batch = b.take()
	}
	b.mu.Unlock()
	if full {
		b.flush(batch, "batch_full")
	}
}

// Close flushes the remaining buffer and stops the interval loop. It is
// idempotent; later calls return once the first has drained.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)
	<-b.done
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	b.flush(batch, "shutdown")
}

func (b *Batcher) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			batch := b.take()
			b.mu.Unlock()
			b.flush(batch, "interval")
		case <-b.stop:
			return
		}
	}
}

// take swaps out the current buffer. Caller holds the lock.
func (b *Batcher) take() []Row {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]Row, 0, b.size)
	return batch
}

func (b *Batcher) flush(batch []Row, trigger string) {
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()
	if err := b.sink.WriteBatch(ctx, batch); err != nil {
		if b.metrics != nil {
			b.metrics.FlushFailures.Inc()
		}
		b.logger.Error(ctx, err, "warehouse flush failed",
			"rows", len(batch),
			"trigger", trigger,
		)
		return
	}
	if b.metrics != nil {
		b.metrics.RowsFlushed.Add(float64(len(batch)))
		b.metrics.Flushes.WithLabelValues(trigger).Inc()
	}
	b.logger.Info(ctx, "warehouse flush",
		"rows", len(batch),
		"trigger", trigger,
	)
}
