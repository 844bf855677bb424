package engine

import (
	"sync"

	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/logger"
)

const eventBufferSize = 16

// Event describes an environment status change
type Event struct {
	Name      string               `json:"environment"`
	OldStatus db.EnvironmentStatus `json:"old_status"`
	NewStatus db.EnvironmentStatus `json:"new_status"`
}

// Broadcaster fans status events out to subscribers. Delivery is best-effort:
// a subscriber whose buffer is full misses the event rather than blocking
// lifecycle operations.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates an event broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The caller must call the returned
// cancel func when done; the channel is closed by cancel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBufferSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			logger.WithFields(logger.Fields{
				"environment": event.Name,
				"new_status":  event.NewStatus,
			}).Debug("Dropping status event for slow subscriber")
		}
	}
}
