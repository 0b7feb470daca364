package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/session"
	"github.com/snarg/meetscribe/internal/subproc"
	"github.com/snarg/meetscribe/internal/voiceprint"
)

// Machine-readable error codes carried in the "error" field.
const (
	ErrBadRequest             = "bad_request"
	ErrInvalidBody            = "invalid_body"
	ErrCapacityExceeded       = "capacity_exceeded"
	ErrSessionNotFound        = "session_not_found"
	ErrInvalidStateTransition = "invalid_state_transition"
	ErrCapabilityUnsupported  = "capability_unsupported"
	ErrProfileNotFound        = "profile_not_found"
	ErrInsufficientEnrollment = "insufficient_enrollment"
	ErrAudioFormat            = "audio_format_error"
	ErrSubprocess             = "subprocess_error"
	ErrInternal               = "internal_error"
	ErrUnauthorized           = "unauthorized"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorWithCode writes a JSON error response with a machine-readable
// code and human-readable detail.
func WriteErrorWithCode(w http.ResponseWriter, status int, code, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Detail: detail})
}

// WriteDomainError maps domain errors onto HTTP status and error codes.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrCapacityExceeded):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrCapacityExceeded, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, ErrSessionNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidStateTransition):
		WriteErrorWithCode(w, http.StatusConflict, ErrInvalidStateTransition, err.Error())
	case errors.Is(err, provider.ErrUnsupported):
		WriteErrorWithCode(w, http.StatusNotImplemented, ErrCapabilityUnsupported, err.Error())
	case errors.Is(err, voiceprint.ErrProfileNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, ErrProfileNotFound, err.Error())
	case errors.Is(err, voiceprint.ErrInsufficientEnrollment):
		WriteErrorWithCode(w, http.StatusConflict, ErrInsufficientEnrollment, err.Error())
	case errors.Is(err, voiceprint.ErrDimensionMismatch):
		WriteErrorWithCode(w, http.StatusUnprocessableEntity, ErrAudioFormat, err.Error())
	case isSubprocessError(err):
		// Local engine failures are unrecoverable server-side faults.
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrSubprocess, err.Error())
	default:
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, err.Error())
	}
}

func isSubprocessError(err error) bool {
	var subErr *subproc.Error
	return errors.As(err, &subErr)
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// QueryStringList extracts a comma-separated list of strings from a query param.
func QueryStringList(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
