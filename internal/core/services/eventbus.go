package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeSwept  EventType = "swept"
)

// BroadcastChannel receives a copy of every published event, regardless of
// job ID. SSE clients that want the full firehose subscribe to it.
const BroadcastChannel = "broadcast"

// Event is a job transition notification. Data is a JSON payload.
type Event struct {
	JobID     string
	Type      EventType
	Data      string
	Timestamp int64
}

// EventBus fans job events out to per-job and broadcast subscribers. Polling
// the registry stays the contract of record; the bus only saves clients from
// doing it.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // key: job ID or BroadcastChannel
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for the given key (a job ID,
// or BroadcastChannel for everything) and an unsubscribe function that
// closes the channel.
func (b *EventBus) Subscribe(key string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffered so publishers never block
	b.subs[key] = append(b.subs[key], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[key]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[key] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}

	return ch, unsub
}

// Publish delivers the event to the job's subscribers and to the broadcast
// channel. Full subscriber channels drop the event rather than block.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliverLocked(e.JobID, e)
	if e.JobID != BroadcastChannel {
		b.deliverLocked(BroadcastChannel, e)
	}
}

func (b *EventBus) deliverLocked(key string, e Event) {
	for _, ch := range b.subs[key] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID)
		}
	}
}
