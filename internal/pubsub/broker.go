// Package pubsub is a small in-process publish/subscribe broker.
//
// Publishing never blocks: each subscriber owns a buffered channel, and an
// event is dropped for a subscriber whose buffer is full. Consumers that need
// every change must be able to recover from a gap (for example by reloading
// from the store), so delivery is best effort per subscriber and at-least-once
// across the reload path.
package pubsub

import (
	"context"
	"sync"

	"github.com/zjrosen/crewchat/internal/log"
)

// EventType names the kind of change carried by an Event.
type EventType string

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Event wraps a payload with its change type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// Broker fans out published events to every live subscriber.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]]struct{}
	bufferSize int
	closed     bool
	// done is closed by Close and releases every subscription watcher.
	done chan struct{}
}

// NewBroker creates a broker with DefaultBufferSize.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](DefaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscriber channels hold size events.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broker[T]{
		subs:       make(map[chan Event[T]]struct{}),
		bufferSize: size,
		done:       make(chan struct{}),
	}
}

// Subscribe returns a channel that receives events until ctx is done or the
// broker is closed. The channel is closed on either.
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

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish delivers an event to all subscribers without blocking.
func (b *Broker[T]) Publish(t EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	event := Event[T]{Type: t, Payload: payload}
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			log.Warn(log.CatPubSub, "Dropping event for slow subscriber", "type", string(t))
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later Subscribe calls receive a
// closed channel and Publish becomes a no-op.
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
