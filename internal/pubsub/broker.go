// Package pubsub is a small typed in-process publish/subscribe broker.
package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 32

// Event wraps a published payload.
type Event[T any] struct {
	ID        string
	Payload   T
	Timestamp time.Time
}

// Broker fans published payloads out to every live subscriber. Delivery is
// best-effort: a subscriber whose buffer is full misses the event.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]]struct{}
	bufferSize int
	closed     bool
	done       chan struct{}
	onDrop     func(Event[T])
}

func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

func NewBrokerWithBuffer[T any](bufferSize int) *Broker[T] {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker[T]{
		subs:       make(map[chan Event[T]]struct{}),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
	}
}

// SetDropHook registers a callback invoked when a subscriber misses an event.
func (b *Broker[T]) SetDropHook(hook func(Event[T])) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = hook
}

// Publish delivers payload to all subscribers without blocking.
func (b *Broker[T]) Publish(payload T) {
	event := Event[T]{
		ID:        uuid.NewString(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.onDrop != nil {
				b.onDrop(event)
			}
		}
	}
}

// Subscribe returns a channel that receives events until ctx is done or the
// broker is closed; the channel is closed then.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(ch)
		case <-b.done:
		}
	}()
	return ch
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription and turns Publish into a no-op.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
