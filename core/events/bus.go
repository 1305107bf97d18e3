package events

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

// TransitionEvent is published after a state transition has committed.
// Subscribers run asynchronously; a slow or failing subscriber never rolls
// back the transition.
type TransitionEvent struct {
	ID              string    `json:"id"`
	IncidentID      int64     `json:"incident_id"`
	IncidentCode    string    `json:"incident_code"`
	FromState       string    `json:"from_state"`
	ToState         string    `json:"to_state"`
	ProductFamily   string    `json:"product_family"`
	ServiceCenterID int64     `json:"service_center_id"`
	ActorID         int64     `json:"actor_id"`
	At              time.Time `json:"at"`
}

// NewEventID returns a fresh correlation id for a published event.
func NewEventID() string {
	return uuid.Must(uuid.NewV4()).String()
}

type Handler func(TransitionEvent)

type subscriber struct {
	name string
	ch   chan TransitionEvent
}

// Bus is a minimal in-process pub/sub fan-out. Publish never blocks: each
// subscriber has a buffered channel and overflow drops the event with a log
// line (delivery is at-most-once here; a durable retry layer is external).
type Bus struct {
	logger zerolog.Logger
	buffer int

	mu     sync.Mutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

func NewBus(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{logger: logger, buffer: buffer}
}

// Subscribe registers a handler under a name used in drop/panic logs.
func (b *Bus) Subscribe(name string, h Handler) {
	sub := &subscriber{name: name, ch: make(chan TransitionEvent, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()
	go b.run(sub, h)
}

func (b *Bus) run(sub *subscriber, h Handler) {
	defer b.wg.Done()
	for ev := range sub.ch {
		b.deliver(sub.name, h, ev)
	}
}

func (b *Bus) deliver(name string, h Handler, ev TransitionEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error().Str("subscriber", name).Str("event", ev.ID).Interface("panic", rec).Msg("event handler panic")
		}
	}()
	h(ev)
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(ev TransitionEvent) {
	if ev.ID == "" {
		ev.ID = NewEventID()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	subs := b.subs
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn().Str("subscriber", sub.name).Str("event", ev.ID).Msg("event dropped: subscriber buffer full")
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
	b.wg.Wait()
}
