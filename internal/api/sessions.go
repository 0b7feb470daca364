package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/session"
)

// maxChunkBytes bounds one audio chunk posted to a session. 1 MiB is over
// 30 seconds of 16kHz mono PCM, far beyond what a realtime client sends.
const maxChunkBytes = 1 << 20

// SessionsHandler exposes the realtime session engine.
type SessionsHandler struct {
	engine *session.Engine
	log    zerolog.Logger
}

func NewSessionsHandler(engine *session.Engine, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		engine: engine,
		log:    log.With().Str("handler", "sessions").Logger(),
	}
}

// Routes registers session routes on the given router.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Get("/sessions", h.List)
	r.Get("/sessions/stats", h.Stats)
	r.Get("/sessions/{id}", h.Get)
	r.Delete("/sessions/{id}", h.Destroy)
	r.Post("/sessions/{id}/pause", h.Pause)
	r.Post("/sessions/{id}/resume", h.Resume)
	r.Post("/sessions/{id}/audio", h.Audio)
}

type createSessionRequest struct {
	MeetingID           string   `json:"meetingId"`
	Language            string   `json:"language"`
	CandidateSpeakerIDs []string `json:"candidateSpeakerIds"`
}

// Create handles POST /api/v1/sessions.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
			return
		}
	}

	sess, err := h.engine.Create(session.CreateOpts{
		MeetingID:           req.MeetingID,
		Language:            req.Language,
		CandidateSpeakerIDs: req.CandidateSpeakerIDs,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess.Snapshot())
}

// List handles GET /api/v1/sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.List())
}

// Stats handles GET /api/v1/sessions/stats.
func (h *SessionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.Stats())
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess.Snapshot())
}

// Destroy handles DELETE /api/v1/sessions/{id}. Deletion is idempotent:
// destroying an unknown or already-destroyed session succeeds.
func (h *SessionsHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.engine.Destroy(r.Context(), id, "client_request")
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /api/v1/sessions/{id}/pause.
func (h *SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := sess.Pause(); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess.Snapshot())
}

// Resume handles POST /api/v1/sessions/{id}/resume.
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := sess.Resume(r.Context()); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess.Snapshot())
}

// Audio handles POST /api/v1/sessions/{id}/audio: one raw PCM chunk per
// request body.
func (h *SessionsHandler) Audio(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes+1))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read audio chunk")
		return
	}
	if len(chunk) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "empty audio chunk")
		return
	}
	if len(chunk) > maxChunkBytes {
		WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrBadRequest, "audio chunk exceeds 1MiB")
		return
	}

	if err := sess.SendAudio(r.Context(), chunk); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
