// Package bus fans turn events out to in-process subscribers such as the
// gateway log observer and the turn journal.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 100

type subscription struct {
	ch     chan Event
	detach sync.Once
}

// MessageBus delivers events to every subscriber without blocking the
// publisher. A subscriber whose buffer is full misses the event.
type MessageBus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		subs: make(map[*subscription]struct{}),
		done: make(chan struct{}),
	}
}

// PublishEvent stamps the event if needed and offers it to each subscriber.
// It reports false once the bus is closed or ctx is done.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}

	for sub := range mb.subs {
		select {
		case sub.ch <- event:
		default:
			mb.dropped.Add(1)
		}
	}
	return true
}

// SubscribeEvents registers a buffered subscriber. The channel is closed when
// unsubscribe is called, ctx ends, or the bus closes.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	sub := &subscription{ch: make(chan Event, buffer)}

	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	mb.subs[sub] = struct{}{}
	mb.mu.Unlock()

	unsubscribe := func() { mb.remove(sub) }
	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

func (mb *MessageBus) remove(sub *subscription) {
	sub.detach.Do(func() {
		mb.mu.Lock()
		defer mb.mu.Unlock()
		if _, ok := mb.subs[sub]; ok {
			delete(mb.subs, sub)
			close(sub.ch)
		}
	})
}

// Dropped counts deliveries skipped because a subscriber buffer was full.
func (mb *MessageBus) Dropped() uint64 {
	return mb.dropped.Load()
}

func (mb *MessageBus) Subscribers() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.subs)
}

// Close ends every subscription. Later publishes report false.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for sub := range mb.subs {
			delete(mb.subs, sub)
			close(sub.ch)
		}
		mb.mu.Unlock()
		close(mb.done)
	})
}
