// Package eventbus carries planboard notifications to their observers and
// runs coordinator events on a bounded worker pool.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/kilianp07/planboard/core/logger"
)

// Event is a notification or a coordinator event.
type Event interface{}

// EventBus fans notifications out to subscribers.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// Bus is the fan-out EventBus. Publish never blocks a coordinator: a
// notification that does not fit a subscriber's buffer is counted and
// dropped for that subscriber.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	closed  bool
	buffer  int
	dropped atomic.Uint64
	log     logger.Logger
}

// Option customizes a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber buffer. Values below one are ignored.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger reports dropped notifications to log.
func WithLogger(log logger.Logger) Option { return func(b *Bus) { b.log = log } }

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{buffer: DefaultBuffer}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish hands e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.drop(e)
		}
	}
}

// drop logs the first drop and every power of two after it.
func (b *Bus) drop(e Event) {
	n := b.dropped.Add(1)
	if b.log != nil && n&(n-1) == 0 {
		b.log.Warnf("notification %T dropped, subscriber full (%d dropped so far)", e, n)
	}
}

// Dropped reports how many notifications subscribers missed.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a subscriber. Its channel is closed by Unsubscribe or
// Close.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes sub and closes it. Unknown channels are ignored.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch != sub {
			continue
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		close(ch)
		return
	}
}

// Close closes every subscriber. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
