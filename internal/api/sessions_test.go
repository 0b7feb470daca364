package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/session"
)

type stubTranscriber struct {
	chunks [][]byte
}

func (s *stubTranscriber) Name() string { return "stub" }

func (s *stubTranscriber) StartRealtime(ctx context.Context, cfg provider.StreamConfig) error {
	return nil
}

func (s *stubTranscriber) SendAudio(chunk []byte) error {
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *stubTranscriber) StopRealtime(ctx context.Context) error { return nil }

func (s *stubTranscriber) TranscribeFile(ctx context.Context, audioPath string, opts provider.TranscribeOpts) (*provider.TranscriptResult, error) {
	return nil, provider.Unsupported("stub", "batch transcription")
}

func (s *stubTranscriber) HealthCheck(ctx context.Context) error { return nil }

func newSessionsRouter(t *testing.T, capacity int) (*chi.Mux, *session.Engine) {
	t.Helper()
	bus := events.NewBus(16)
	engine := session.NewEngine(session.EngineConfig{Capacity: capacity}, func() (provider.Transcriber, error) {
		return &stubTranscriber{}, nil
	}, bus, zerolog.Nop())
	t.Cleanup(func() { engine.Stop(context.Background()) })

	r := chi.NewRouter()
	NewSessionsHandler(engine, zerolog.Nop()).Routes(r)
	return r, engine
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(`{"meetingId":"mtg-1","language":"en"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ID == "" {
		t.Fatal("create session returned empty id")
	}
	return snap.ID
}

func TestSessionLifecycle(t *testing.T) {
	r, _ := newSessionsRouter(t, 4)
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get session: status = %d", w.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != session.StateCreated {
		t.Errorf("state = %q, want %q", snap.State, session.StateCreated)
	}
	if snap.Language != "en" {
		t.Errorf("language = %q, want en", snap.Language)
	}
	if snap.MeetingID != "mtg-1" {
		t.Errorf("meetingId = %q, want mtg-1", snap.MeetingID)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/sessions/"+id, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete session: status = %d, want 204", w.Code)
	}

	// Deletion is idempotent.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/sessions/"+id, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("second delete: status = %d, want 204", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/"+id, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d, want 404", w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error != ErrSessionNotFound {
		t.Errorf("error code = %q, want %q", errResp.Error, ErrSessionNotFound)
	}
}

func TestCreateSessionAtCapacity(t *testing.T) {
	r, _ := newSessionsRouter(t, 1)
	createSession(t, r)

	req := httptest.NewRequest("POST", "/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error != ErrCapacityExceeded {
		t.Errorf("error code = %q, want %q", errResp.Error, ErrCapacityExceeded)
	}
}

func TestSendAudio(t *testing.T) {
	r, _ := newSessionsRouter(t, 2)
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/audio", bytes.NewReader(make([]byte, 3200))))
	if w.Code != http.StatusAccepted {
		t.Fatalf("send audio: status = %d, want 202; body: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/"+id, nil))
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != session.StateRunning {
		t.Errorf("state after first audio = %q, want %q", snap.State, session.StateRunning)
	}
}

func TestSendAudioEmptyBody(t *testing.T) {
	r, _ := newSessionsRouter(t, 2)
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/audio", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSendAudioChunkTooLarge(t *testing.T) {
	r, _ := newSessionsRouter(t, 2)
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/audio", bytes.NewReader(make([]byte, maxChunkBytes+1))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestPauseResume(t *testing.T) {
	r, _ := newSessionsRouter(t, 2)
	id := createSession(t, r)

	// Pause is only valid once the session is running.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/pause", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("pause before audio: status = %d, want 409", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/audio", bytes.NewReader(make([]byte, 320))))
	if w.Code != http.StatusAccepted {
		t.Fatalf("send audio: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/pause", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("pause: status = %d; body: %s", w.Code, w.Body.String())
	}
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != session.StatePaused {
		t.Errorf("state = %q, want %q", snap.State, session.StatePaused)
	}

	// Pausing a paused session is a state conflict.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/pause", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("double pause: status = %d, want 409", w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error != ErrInvalidStateTransition {
		t.Errorf("error code = %q, want %q", errResp.Error, ErrInvalidStateTransition)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/sessions/"+id+"/resume", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("resume: status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestListAndStats(t *testing.T) {
	r, _ := newSessionsRouter(t, 4)
	createSession(t, r)
	createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	var snaps []session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("list returned %d sessions, want 2", len(snaps))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/stats", nil))
	var stats session.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Active != 2 || stats.Capacity != 4 {
		t.Errorf("stats = %+v, want active=2 capacity=4", stats)
	}
}
