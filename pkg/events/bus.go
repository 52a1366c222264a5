package events

import (
	"log/slog"
	"sync"

	"github.com/paperflow/pipeline/pkg/models"
)

// Envelope is one published event as delivered to in-process subscribers.
type Envelope struct {
	RunID   models.RunID
	Kind    string
	Payload []byte
}

// Bus is a small in-process fan-out of typed Go channels, standing in for
// the teacher's WebSocket ConnectionManager now that real-time delivery to
// external clients is out of scope (see DESIGN.md). Subscribers are local:
// the CLI admin surface and tests. Publication is fire-and-forget — a full
// subscriber channel drops the event rather than blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Envelope
	next int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Envelope)}
}

// Subscribe registers a new buffered channel and returns it along with an
// unsubscribe function the caller must call when done listening.
func (b *Bus) Subscribe(buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Envelope, buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish fans out env to every current subscriber, non-blocking.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			slog.Warn("events: subscriber channel full, dropping event", "kind", env.Kind, "run_id", env.RunID)
		}
	}
}
