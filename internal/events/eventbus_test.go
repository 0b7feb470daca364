package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	ch, cancel := bus.Subscribe(Filter{})
	defer cancel()

	bus.Publish("session", "created", "sess-1", map[string]string{"state": "created"})

	e := recvEvent(t, ch)
	if e.Type != "session" || e.SubType != "created" {
		t.Errorf("got type=%s subtype=%s", e.Type, e.SubType)
	}
	if e.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", e.SessionID)
	}
	if e.ID == "" || e.Timestamp == "" {
		t.Error("event missing ID or timestamp")
	}
}

func TestFilterByType(t *testing.T) {
	bus := NewBus(16)
	ch, cancel := bus.Subscribe(Filter{Types: []string{"transcript"}})
	defer cancel()

	bus.Publish("session", "created", "s1", nil)
	bus.Publish("transcript", "final", "s1", map[string]string{"text": "hello"})

	e := recvEvent(t, ch)
	if e.Type != "transcript" {
		t.Errorf("filtered subscriber got type %s", e.Type)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestFilterCompoundTypeSubtype(t *testing.T) {
	bus := NewBus(16)
	ch, cancel := bus.Subscribe(Filter{Types: []string{"session:paused"}})
	defer cancel()

	bus.Publish("session", "created", "s1", nil)
	bus.Publish("session", "paused", "s1", nil)

	e := recvEvent(t, ch)
	if e.SubType != "paused" {
		t.Errorf("got subtype %s, want paused", e.SubType)
	}
}

func TestFilterBySession(t *testing.T) {
	bus := NewBus(16)
	ch, cancel := bus.Subscribe(Filter{SessionIDs: []string{"s2"}})
	defer cancel()

	bus.Publish("transcript", "final", "s1", nil)
	bus.Publish("transcript", "final", "s2", nil)

	e := recvEvent(t, ch)
	if e.SessionID != "s2" {
		t.Errorf("got session %s, want s2", e.SessionID)
	}
}

func TestReplaySince(t *testing.T) {
	bus := NewBus(16)

	bus.Publish("session", "created", "s1", nil)
	bus.Publish("transcript", "final", "s1", nil)
	bus.Publish("session", "stopped", "s1", nil)

	all := bus.ReplaySince("", Filter{})
	if len(all) != 3 {
		t.Fatalf("full replay returned %d events, want 3", len(all))
	}

	since := bus.ReplaySince(all[0].ID, Filter{})
	if len(since) != 2 {
		t.Fatalf("replay since first event returned %d events, want 2", len(since))
	}
	if since[0].Type != "transcript" || since[1].SubType != "stopped" {
		t.Errorf("replay order wrong: %+v", since)
	}
}

func TestReplayUnknownIDReturnsNothing(t *testing.T) {
	bus := NewBus(16)
	bus.Publish("session", "created", "s1", nil)

	events := bus.ReplaySince("no-such-id", Filter{})
	if len(events) != 0 {
		t.Errorf("got %d events for unknown last-event-id, want 0", len(events))
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	bus := NewBus(4)
	for i := 0; i < 6; i++ {
		bus.Publish("tick", "", "s1", i)
	}

	events := bus.ReplaySince("", Filter{})
	if len(events) != 4 {
		t.Fatalf("got %d events, want ring size 4", len(events))
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(16)
	_, cancel := bus.Subscribe(Filter{})
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Channel buffer is 64; publish past it without draining.
		for i := 0; i < 200; i++ {
			bus.Publish("tick", "", "s1", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
