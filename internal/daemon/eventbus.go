package daemon

import (
	"sync"
	"time"

	"github.com/OmidH/llm-to-matrix/internal/bot"
)

// Event is a bot lifecycle event with the time it was published.
type Event struct {
	bot.Event
	TS string `json:"ts"`
}

// EventBus keeps the most recent bot events for the operator API.
// Thread-safe.
type EventBus struct {
	mu        sync.RWMutex
	recent    []Event
	maxRecent int
	now       func() time.Time
}

// NewEventBus creates an event bus that keeps the last size events.
func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = 200
	}
	return &EventBus{maxRecent: size, now: time.Now}
}

// Publish stores an event in the ring buffer. Never blocks on readers.
func (eb *EventBus) Publish(e bot.Event) {
	ev := Event{Event: e, TS: eb.now().Format(time.RFC3339)}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.recent = append(eb.recent, ev)
	if len(eb.recent) > eb.maxRecent {
		eb.recent = eb.recent[len(eb.recent)-eb.maxRecent:]
	}
}

// Recent returns the last N events, oldest first.
func (eb *EventBus) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if n <= 0 || n > len(eb.recent) {
		n = len(eb.recent)
	}
	// Return a copy from the tail
	result := make([]Event, n)
	copy(result, eb.recent[len(eb.recent)-n:])
	return result
}
