package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(8, zerolog.Nop())
	defer bus.Close()

	var mu sync.Mutex
	seen := map[string][]string{}
	record := func(name string) Handler {
		return func(ev TransitionEvent) {
			mu.Lock()
			seen[name] = append(seen[name], ev.ToState)
			mu.Unlock()
		}
	}
	bus.Subscribe("a", record("a"))
	bus.Subscribe("b", record("b"))

	bus.Publish(TransitionEvent{IncidentID: 1, ToState: "in_diagnosis"})
	bus.Publish(TransitionEvent{IncidentID: 1, ToState: "in_repair"})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(seen["a"]) == 2 && len(seen["b"]) == 2
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("subscribers incomplete: %v", seen)
		case <-time.After(10 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if seen["a"][0] != "in_diagnosis" || seen["a"][1] != "in_repair" {
		t.Fatalf("order = %v", seen["a"])
	}
}

func TestPublishFillsInIDAndTimestamp(t *testing.T) {
	bus := NewBus(8, zerolog.Nop())
	defer bus.Close()

	got := make(chan TransitionEvent, 1)
	bus.Subscribe("capture", func(ev TransitionEvent) { got <- ev })
	bus.Publish(TransitionEvent{IncidentID: 7, ToState: "repaired"})

	select {
	case ev := <-got:
		if ev.ID == "" || ev.At.IsZero() {
			t.Fatalf("event missing id/timestamp: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe("slow", func(TransitionEvent) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TransitionEvent{IncidentID: int64(i), ToState: "repaired"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(block)
}

func TestPanicInHandlerIsContained(t *testing.T) {
	bus := NewBus(8, zerolog.Nop())

	bus.Subscribe("panicky", func(TransitionEvent) { panic("boom") })
	got := make(chan struct{}, 1)
	bus.Subscribe("healthy", func(TransitionEvent) { got <- struct{}{} })

	bus.Publish(TransitionEvent{IncidentID: 1, ToState: "repaired"})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber starved by panic")
	}
	bus.Close()
}
