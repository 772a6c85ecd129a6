package audit

import (
	"context"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/sentinelhealth/sentinel/internal/bus"
)

// outboxCap bounds the best-effort queue. When full, the oldest message is
// dropped: audit records are already durably stored, the bus copy is a
// convenience stream for downstream consumers.
const outboxCap = 256

// Outbox is a bounded best-effort publish queue drained by one background
// worker. Enqueue never blocks the caller; publish failures are logged and
// swallowed.
type Outbox struct {
	mu     sync.Mutex
	queue  chan []byte
	closed bool

	pub    bus.Publisher
	topic  string
	logger log.Logger
	done   chan struct{}
}

// NewOutbox starts the drain worker.
func NewOutbox(pub bus.Publisher, topic string, logger log.Logger) *Outbox {
	if logger == nil {
		logger = log.Nop()
	}
	o := &Outbox{
		queue:  make(chan []byte, outboxCap),
		pub:    pub,
		topic:  topic,
		logger: logger,
		done:   make(chan struct{}),
	}
	go o.drain()
	return o
}

// Enqueue adds a message, dropping the oldest queued message when full.
func (o *Outbox) Enqueue(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	for {
		select {
		case o.queue <- data:
			return
		default:
		}
		// Full: drop the oldest and retry the send.
		select {
		case <-o.queue:
			o.logger.Warn(context.Background(), "audit outbox full, dropped oldest message", "topic", o.topic)
		default:
		}
	}
}

// Close stops accepting messages and waits for the queue to drain.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()
	<-o.done
}

func (o *Outbox) drain() {
	defer close(o.done)
	for data := range o.queue {
		if err := o.pub.Publish(context.Background(), o.topic, data); err != nil {
			o.logger.Warn(context.Background(), "best-effort audit publish failed", "topic", o.topic, "error", err)
		}
	}
}
