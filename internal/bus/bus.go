// Package bus is the in-process conduit between channel adapters and the
// ingestion gateway.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"kanade/internal/domain"
)

const publishTimeout = 10 * time.Second

// Bus is a buffered single-consumer event queue. Channel adapters publish
// inbound events; the gateway subscribes.
type Bus struct {
	events chan domain.InboundEvent
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a bus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		events: make(chan domain.InboundEvent, bufferSize),
		logger: logger,
	}
}

// Publish enqueues an event. When the buffer is full it blocks up to ten
// seconds before dropping, so a slow consumer degrades to latency first.
func (b *Bus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish to closed bus dropped", "session", ev.Key.String())
		return
	}

	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event bus full, waiting", "session", ev.Key.String())
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
		case <-timer.C:
			b.logger.Error("event dropped: bus full", "session", ev.Key.String(), "sender", ev.SenderID)
		}
	}
}

// Subscribe returns the event stream. The channel closes when the bus closes.
func (b *Bus) Subscribe() <-chan domain.InboundEvent {
	return b.events
}

// Close shuts the bus; further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
