package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/session"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Sessions      *session.Stats    `json:"sessions,omitempty"`
}

// HealthChecker is anything with a probeable backend. Both transcription
// and voiceprint providers satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	engine    *session.Engine
	checkers  map[string]HealthChecker
	version   string
	startTime time.Time
}

func NewHealthHandler(engine *session.Engine, checkers map[string]HealthChecker, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		checkers:  checkers,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Provider checks. A broken engine degrades the service but the API
	// itself stays up, so report 200 unless every provider is down.
	failed := 0
	for name, c := range h.checkers {
		if err := c.HealthCheck(r.Context()); err != nil {
			checks[name] = "error"
			failed++
		} else {
			checks[name] = "ok"
		}
	}
	if failed > 0 {
		status = "degraded"
	}
	if len(h.checkers) > 0 && failed == len(h.checkers) {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if audio.CheckSox() {
		checks["sox"] = "ok"
	} else {
		checks["sox"] = "not_found"
		if status == "healthy" {
			status = "degraded"
		}
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.engine != nil {
		stats := h.engine.Stats()
		resp.Sessions = &stats
	}

	WriteJSON(w, httpStatus, resp)
}
