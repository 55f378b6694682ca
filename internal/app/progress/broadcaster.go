// Package progress broadcasts discovery progress events to subscribers.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// sendTimeout bounds how long one subscriber may block a publish.
const sendTimeout = 500 * time.Millisecond

// Stream receives progress events.
type Stream interface {
	Send(Event) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(Event) error

// Send implements Stream.
func (f StreamFunc) Send(e Event) error { return f(e) }

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Broadcaster manages progress subscriptions and fan-out.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (b *Broadcaster) Subscribe(stream Stream) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// SubscribeChan subscribes a buffered channel. Events are dropped while the buffer is full.
// The returned cancel function unsubscribes; the channel is never closed.
func (b *Broadcaster) SubscribeChan(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	id := b.Subscribe(StreamFunc(func(e Event) error {
		select {
		case ch <- e:
		default:
			zlog.Debug().Msgf("progress subscriber is full, dropping event: run_id=%s state=%s", e.RunID, e.State)
		}
		return nil
	}))
	return ch, func() { b.Unsubscribe(id) }
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, subscriptionID)
}

// Publish stamps e with the next sequence number and sends it to all subscribers.
// Each send runs in its own goroutine with a timeout so a slow subscriber cannot stall a run.
func (b *Broadcaster) Publish(e Event) {
	b.sequenceNoMu.Lock()
	b.sequenceNo++
	e.SequenceNo = b.sequenceNo
	b.sequenceNoMu.Unlock()

	b.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(e)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("progress send failed: subscription=%s error=%v", s.id, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("progress send timed out: subscription=%s", s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close removes all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string]*subscription)
}
