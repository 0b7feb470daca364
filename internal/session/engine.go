package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/provider"
)

// TranscriberFactory builds one provider instance per session. Realtime
// streams are stateful, so sessions never share a Transcriber.
type TranscriberFactory func() (provider.Transcriber, error)

// EngineConfig bounds the engine's admission and cleanup behavior.
type EngineConfig struct {
	Capacity      int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	SampleRate    int

	// DefaultLanguage is used when a session is created without one.
	DefaultLanguage string
}

// Engine owns all live sessions. Admission is capacity-bounded over
// non-terminal sessions; idle sessions are swept in the background.
type Engine struct {
	cfg     EngineConfig
	factory TranscriberFactory
	bus     *events.Bus
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a session engine. Call Start to begin idle sweeping.
func NewEngine(cfg EngineConfig, factory TranscriberFactory, bus *events.Bus, log zerolog.Logger) *Engine {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Engine{
		cfg:      cfg,
		factory:  factory,
		bus:      bus,
		log:      log.With().Str("component", "session-engine").Logger(),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

func (e *Engine) Start() {
	if e.cfg.SweepInterval > 0 && e.cfg.IdleTimeout > 0 {
		go e.sweepLoop()
	}
}

// Stop halts the sweep loop and stops every live session.
func (e *Engine) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stop) })

	e.mu.Lock()
	live := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		live = append(live, s)
	}
	e.mu.Unlock()

	for _, s := range live {
		if err := s.stop(ctx, "shutdown"); err != nil {
			e.log.Warn().Err(err).Str("session_id", s.id).Msg("session stop during shutdown")
		}
	}
}

// CreateOpts are per-session creation options.
type CreateOpts struct {
	MeetingID string
	Language  string

	// CandidateSpeakerIDs are enrolled profile ids expected in the meeting,
	// carried on the session for downstream speaker attribution.
	CandidateSpeakerIDs []string
}

// Create admits a new session if capacity allows. The capacity check and
// map insertion are atomic, so concurrent creates can never overshoot the
// bound. The transcriber is built before reservation; it holds no
// resources until the stream starts, so discarding it on rejection is
// free.
func (e *Engine) Create(opts CreateOpts) (*Session, error) {
	tr, err := e.factory()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if opts.Language == "" {
		opts.Language = e.cfg.DefaultLanguage
	}

	id := uuid.NewString()
	now := time.Now()
	sess := &Session{
		id:          id,
		meetingID:   opts.MeetingID,
		candidates:  append([]string(nil), opts.CandidateSpeakerIDs...),
		createdAt:   now,
		bus:         e.bus,
		state:       StateCreated,
		transcriber: tr,
		language:    opts.Language,
		sampleRate:  e.cfg.SampleRate,
		lastActive:  now,
	}

	e.mu.Lock()
	active := 0
	for _, s := range e.sessions {
		if !s.currentState().Terminal() {
			active++
		}
	}
	if active >= e.cfg.Capacity {
		e.mu.Unlock()
		return nil, fmt.Errorf("%d of %d sessions in use: %w", active, e.cfg.Capacity, ErrCapacityExceeded)
	}
	e.sessions[id] = sess
	e.mu.Unlock()

	metrics.SessionsCreatedTotal.Inc()
	metrics.SessionsActive.Inc()
	e.log.Info().Str("session_id", id).Str("provider", tr.Name()).Msg("session created")
	e.bus.Publish("session", "created", id, map[string]string{"provider": tr.Name()})
	return sess, nil
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Get returns the session by id.
func (e *Engine) Get(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Destroy stops a session and removes it from the engine.
func (e *Engine) Destroy(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	stopErr := s.stop(ctx, reason)

	e.mu.Lock()
	_, present := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	if present {
		metrics.SessionsDestroyedTotal.WithLabelValues(reason).Inc()
		e.log.Info().Str("session_id", id).Str("reason", reason).Msg("session destroyed")
	}
	return stopErr
}

// Stats summarizes engine occupancy. Paused sessions count toward Active
// for admission purposes.
type Stats struct {
	Active   int `json:"active"`
	Paused   int `json:"paused"`
	Capacity int `json:"capacity"`
	Total    int `json:"total"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active, paused int
	for _, s := range e.sessions {
		st := s.currentState()
		if !st.Terminal() {
			active++
		}
		if st == StatePaused {
			paused++
		}
	}
	return Stats{Active: active, Paused: paused, Capacity: e.cfg.Capacity, Total: len(e.sessions)}
}

// List snapshots every session.
func (e *Engine) List() []Snapshot {
	e.mu.Lock()
	all := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.Unlock()

	snaps := make([]Snapshot, 0, len(all))
	for _, s := range all {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.stop:
			return
		}
	}
}

// sweep destroys sessions idle past the timeout. Terminal sessions are
// held for the same window so their transcript stays queryable, then
// pruned.
func (e *Engine) sweep() {
	cutoff := time.Now().Add(-e.cfg.IdleTimeout)

	e.mu.Lock()
	all := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.Unlock()

	var idle []string
	for _, s := range all {
		s.mu.Lock()
		stale := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if stale {
			idle = append(idle, s.id)
		}
	}

	for _, id := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.Destroy(ctx, id, "timed_out"); err != nil && err != ErrSessionNotFound {
			e.log.Warn().Err(err).Str("session_id", id).Msg("idle sweep destroy")
		}
		cancel()
	}
	if len(idle) > 0 {
		e.log.Info().Int("swept", len(idle)).Msg("idle session sweep complete")
	}
}
