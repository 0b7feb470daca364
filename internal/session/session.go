// Package session manages the lifecycle of realtime transcription
// sessions: bounded-capacity admission, state transitions, audio routing
// to the provider stream, and idle cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/provider"
)

// State is a session lifecycle state. Stopped and Error are terminal.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

var (
	ErrCapacityExceeded       = errors.New("session capacity exceeded")
	ErrSessionNotFound        = errors.New("session not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// Line is one committed line of the session transcript.
type Line struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Snapshot is a point-in-time copy of session state, safe to serialize.
type Snapshot struct {
	ID                  string    `json:"id"`
	MeetingID           string    `json:"meetingId,omitempty"`
	State               State     `json:"state"`
	Provider            string    `json:"provider"`
	Language            string    `json:"language,omitempty"`
	CandidateSpeakerIDs []string  `json:"candidateSpeakerIds,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	LastActiveAt        time.Time `json:"lastActiveAt"`
	Transcript          []Line    `json:"transcript"`
	Partial             string    `json:"partial,omitempty"`
	Error               string    `json:"error,omitempty"`
}

// Session is one realtime transcription stream. State lives under mu,
// which is never held across a provider call: stream starts and sends are
// serialized by sendMu instead, so stop and status reads stay responsive
// while a send is blocked on a stalled engine.
type Session struct {
	id         string
	meetingID  string
	candidates []string
	createdAt  time.Time
	bus        *events.Bus

	// sendMu orders provider stream starts and audio sends. Never
	// acquired while holding mu.
	sendMu sync.Mutex

	mu          sync.Mutex
	state       State
	transcriber provider.Transcriber
	language    string
	sampleRate  int
	started     bool
	lastActive  time.Time
	buffered    [][]byte
	transcript  []Line
	partial     string
	errMsg      string
}

func (s *Session) ID() string { return s.id }

// Snapshot copies the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]Line, len(s.transcript))
	copy(lines, s.transcript)
	return Snapshot{
		ID:                  s.id,
		MeetingID:           s.meetingID,
		State:               s.state,
		Provider:            s.transcriber.Name(),
		Language:            s.language,
		CandidateSpeakerIDs: append([]string(nil), s.candidates...),
		CreatedAt:           s.createdAt,
		LastActiveAt:        s.lastActive,
		Transcript:          lines,
		Partial:             s.partial,
		Error:               s.errMsg,
	}
}

// SendAudio routes an audio chunk to the provider stream. The first chunk
// on a fresh session starts the realtime stream; chunks sent while paused
// are buffered and flushed on resume.
func (s *Session) SendAudio(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	switch s.state {
	case StatePaused:
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		s.buffered = append(s.buffered, buf)
		s.lastActive = time.Now()
		s.mu.Unlock()
		return nil
	case StateStopped, StateError:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s: %w", s.id, st, ErrInvalidStateTransition)
	}
	tr := s.transcriber
	s.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.ensureStarted(ctx, tr); err != nil {
		return err
	}
	if err := tr.SendAudio(chunk); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateCreated {
		s.state = StateRunning
	}
	if !s.state.Terminal() {
		s.lastActive = time.Now()
	}
	s.mu.Unlock()
	return nil
}

// ensureStarted opens the provider stream on the first chunk. Caller holds
// sendMu, so at most one start is in flight per session.
func (s *Session) ensureStarted(ctx context.Context, tr provider.Transcriber) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return nil
	}

	cfg := provider.StreamConfig{
		Language:   s.language,
		SampleRate: s.sampleRate,
		OnTranscript: func(text string, final bool, start, end float64) {
			s.onTranscript(text, final, start, end)
		},
		OnError: func(err error, terminal bool) {
			s.onStreamError(err, terminal)
		},
	}
	if err := tr.StartRealtime(ctx, cfg); err != nil {
		s.mu.Lock()
		if !s.state.Terminal() {
			s.setTerminalLocked(StateError)
			s.errMsg = err.Error()
		}
		s.mu.Unlock()
		s.bus.Publish("session", "error", s.id, map[string]string{"error": err.Error()})
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// setTerminalLocked moves the session to a terminal state and releases its
// slot in the active gauge. Caller holds s.mu. No-op when already terminal.
func (s *Session) setTerminalLocked(st State) {
	if s.state.Terminal() {
		return
	}
	s.state = st
	metrics.SessionsActive.Dec()
}

// onTranscript runs on the provider's pump goroutine.
func (s *Session) onTranscript(text string, final bool, start, end float64) {
	s.mu.Lock()
	if final {
		s.transcript = append(s.transcript, Line{Text: text, Start: start, End: end})
		s.partial = ""
	} else {
		s.partial = text
	}
	s.lastActive = time.Now()
	s.mu.Unlock()

	subType := "partial"
	if final {
		subType = "final"
	}
	s.bus.Publish("transcript", subType, s.id, map[string]any{
		"text":  text,
		"start": start,
		"end":   end,
		"final": final,
	})
}

func (s *Session) onStreamError(err error, terminal bool) {
	if !terminal {
		s.bus.Publish("session", "warning", s.id, map[string]string{"error": err.Error()})
		return
	}
	s.mu.Lock()
	if !s.state.Terminal() {
		s.setTerminalLocked(StateError)
		s.errMsg = err.Error()
	}
	s.mu.Unlock()
	s.bus.Publish("session", "error", s.id, map[string]string{"error": err.Error()})
}

// Pause suspends audio delivery. Chunks received while paused are buffered.
// Only a running session can pause.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("cannot pause session in state %s: %w", s.state, ErrInvalidStateTransition)
	}
	s.state = StatePaused
	s.lastActive = time.Now()
	s.bus.Publish("session", "paused", s.id, nil)
	return nil
}

// Resume flushes audio buffered while paused and restores the running
// state. On a flush failure the unsent chunks are requeued and the session
// stays paused.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePaused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot resume session in state %s: %w", st, ErrInvalidStateTransition)
	}
	pending := s.buffered
	s.buffered = nil
	tr := s.transcriber
	s.mu.Unlock()

	// Pause is only reachable from running, so the stream is started.
	s.sendMu.Lock()
	sent := 0
	var sendErr error
	for _, chunk := range pending {
		if sendErr = tr.SendAudio(chunk); sendErr != nil {
			break
		}
		sent++
	}
	s.sendMu.Unlock()

	s.mu.Lock()
	if sendErr != nil {
		if s.state == StatePaused {
			s.buffered = append(pending[sent:], s.buffered...)
		}
		s.mu.Unlock()
		return sendErr
	}
	if s.state == StatePaused {
		s.state = StateRunning
		s.lastActive = time.Now()
	}
	s.mu.Unlock()
	s.bus.Publish("session", "resumed", s.id, nil)
	return nil
}

// stop drives the session to a terminal state and closes the provider
// stream. It never waits on sendMu: closing the stream is what unblocks a
// send stuck on a stalled engine. Idempotent; a second call on a terminal
// session is a no-op.
func (s *Session) stop(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.setTerminalLocked(StateStopped)
	started := s.started
	s.buffered = nil
	s.mu.Unlock()

	var err error
	if started {
		err = s.transcriber.StopRealtime(ctx)
	}
	s.bus.Publish("session", "stopped", s.id, map[string]string{"reason": reason})
	return err
}
