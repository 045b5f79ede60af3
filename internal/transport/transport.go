// Package transport defines how encoded capsules move between nodes.
//
// The engine makes no delivery assumptions beyond at-least-once: any
// channel may duplicate, delay, or reorder. Capsule identity and the
// sync queue's dedup absorb all of it, which the loopback channel's
// deliberate re-delivery exercises in tests.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once a channel is closed on both sides.
var ErrClosed = errors.New("transport: channel closed")

// Channel carries encoded capsules between nodes. Implementations are
// free to duplicate and reorder; they must not corrupt.
type Channel interface {
	// Send queues one encoded capsule for delivery.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks for the next delivery.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the channel. Pending deliveries are drained,
	// not dropped.
	Close() error
}

// Loopback is an in-memory Channel that re-delivers every Nth payload,
// simulating an at-least-once link.
type Loopback struct {
	mu       sync.Mutex
	buf      [][]byte
	closed   bool
	signal   chan struct{}
	dupEvery int
	sent     int
}

// NewLoopback creates a loopback channel. dupEvery n > 0 duplicates
// every nth sent payload; 0 disables duplication.
func NewLoopback(dupEvery int) *Loopback {
	return &Loopback{
		signal:   make(chan struct{}, 1),
		dupEvery: dupEvery,
	}
}

// Send queues the payload, duplicating per policy.
func (l *Loopback) Send(_ context.Context, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	p := make([]byte, len(payload))
	copy(p, payload)
	l.buf = append(l.buf, p)
	l.sent++
	if l.dupEvery > 0 && l.sent%l.dupEvery == 0 {
		l.buf = append(l.buf, p)
	}

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns the next payload, blocking until one arrives, the
// channel drains after close, or ctx is done.
func (l *Loopback) Receive(ctx context.Context) ([]byte, error) {
	for {
		l.mu.Lock()
		if len(l.buf) > 0 {
			p := l.buf[0]
			l.buf[0] = nil
			l.buf = l.buf[1:]
			l.mu.Unlock()
			return p, nil
		}
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.signal:
		}
	}
}

// Close stops new sends. Buffered payloads remain receivable.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.signal)
	return nil
}
