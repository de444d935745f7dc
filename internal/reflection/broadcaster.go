// ABOUTME: In-memory fan-out of scheduler state transitions.
// ABOUTME: Slow subscribers miss events instead of blocking the scheduler.

package reflection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// broadcaster provides pub/sub for StateEvents.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan StateEvent
	closed      bool
	logger      *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]chan StateEvent),
		logger:      logger,
	}
}

// subscribe registers a subscriber that is removed when ctx ends.
func (b *broadcaster) subscribe(ctx context.Context) <-chan StateEvent {
	id := uuid.New().String()
	ch := make(chan StateEvent, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subscribers[id] = ch
	b.mu.Unlock()

	b.logger.Debug("state subscriber added", "sub_id", id)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

// publish sends ev to every subscriber without blocking.
func (b *broadcaster) publish(ev StateEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped state event for slow subscriber", "sub_id", id, "state", ev.State)
		}
	}
}

func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
	b.logger.Debug("state subscriber removed", "sub_id", id)
}

func (b *broadcaster) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// close closes every subscriber channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}
