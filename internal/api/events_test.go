package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snarg/meetscribe/internal/events"
)

func streamWithTimeout(t *testing.T, h *EventsHandler, target string, lastEventID string, d time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	req := httptest.NewRequest("GET", target, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	w := httptest.NewRecorder()
	h.StreamEvents(w, req)
	return w
}

func TestStreamEventsHeaders(t *testing.T) {
	h := NewEventsHandler(events.NewBus(16))
	w := streamWithTimeout(t, h, "/events/stream", "", 50*time.Millisecond)

	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := w.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}
}

func TestStreamEventsReplay(t *testing.T) {
	bus := events.NewBus(16)
	h := NewEventsHandler(bus)

	first := bus.Publish("session", "created", "s1", map[string]string{"id": "s1"})
	bus.Publish("transcript", "final", "s1", map[string]string{"text": "hello"})
	bus.Publish("transcript", "final", "s2", map[string]string{"text": "world"})

	w := streamWithTimeout(t, h, "/events/stream", first, 50*time.Millisecond)
	body := w.Body.String()

	if strings.Contains(body, `"id":"s1"`) {
		t.Error("replay included the event named by Last-Event-ID")
	}
	if !strings.Contains(body, "hello") || !strings.Contains(body, "world") {
		t.Errorf("replay missed later events; body:\n%s", body)
	}
	if !strings.Contains(body, "event: transcript:final\n") {
		t.Errorf("expected compound event name; body:\n%s", body)
	}
}

func TestStreamEventsLive(t *testing.T) {
	bus := events.NewBus(16)
	h := NewEventsHandler(bus)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- streamWithTimeout(t, h, "/events/stream", "", 300*time.Millisecond)
	}()

	// Give the handler time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish("session", "stopped", "s9", map[string]string{"reason": "client_request"})

	w := <-done
	if !strings.Contains(w.Body.String(), "client_request") {
		t.Errorf("live event not streamed; body:\n%s", w.Body.String())
	}
}

func TestStreamEventsFilter(t *testing.T) {
	bus := events.NewBus(16)
	h := NewEventsHandler(bus)

	first := bus.Publish("session", "created", "s1", map[string]string{"id": "s1"})
	bus.Publish("transcript", "final", "s1", map[string]string{"text": "keep"})
	bus.Publish("session", "paused", "s1", map[string]string{"id": "s1"})

	w := streamWithTimeout(t, h, "/events/stream?types=transcript", first, 50*time.Millisecond)
	body := w.Body.String()

	if !strings.Contains(body, "keep") {
		t.Errorf("filtered replay dropped matching event; body:\n%s", body)
	}
	if strings.Contains(body, "paused") {
		t.Errorf("filtered replay leaked non-matching event; body:\n%s", body)
	}
}
