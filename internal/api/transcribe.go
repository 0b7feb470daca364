package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/pipeline"
)

// maxUploadBytes bounds one uploaded recording (2h of 16kHz mono PCM WAV
// is ~220MB; compressed uploads are far smaller).
const maxUploadBytes = 256 << 20

// TranscribeHandler runs uploaded recordings through the batch pipeline.
type TranscribeHandler struct {
	pipeline *pipeline.Orchestrator
	tmpDir   string
	log      zerolog.Logger
}

func NewTranscribeHandler(p *pipeline.Orchestrator, tmpDir string, log zerolog.Logger) *TranscribeHandler {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &TranscribeHandler{
		pipeline: p,
		tmpDir:   tmpDir,
		log:      log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the batch transcription endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/audio/transcribe-file", h.TranscribeFile)
}

// TranscribeFile handles POST /api/v1/audio/transcribe-file.
//
// Multipart form fields:
//
//	audio       recording file (required)
//	language    language hint
//	model       model override for the batch provider
//	candidates  JSON array of enrolled profile ids to identify against
//	profiles    same list as comma-separated values
func (h *TranscribeHandler) TranscribeFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "missing audio file field")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".wav"
	}
	tmpPath := filepath.Join(h.tmpDir, "upload-"+uuid.NewString()+ext)
	out, err := os.Create(tmpPath)
	if err != nil {
		h.log.Error().Err(err).Msg("create upload temp file")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(tmpPath)

	n, err := io.Copy(out, io.LimitReader(file, maxUploadBytes+1))
	out.Close()
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read audio file")
		return
	}
	if n > maxUploadBytes {
		WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrBadRequest, "recording exceeds upload limit")
		return
	}

	// Candidate speakers arrive either as a JSON array ("candidates") or a
	// comma-separated list ("profiles").
	var profiles []string
	if v := r.FormValue("candidates"); v != "" {
		if err := json.Unmarshal([]byte(v), &profiles); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "candidates must be a JSON array of profile ids")
			return
		}
	} else if v := r.FormValue("profiles"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				profiles = append(profiles, p)
			}
		}
	}

	res, err := h.pipeline.Run(r.Context(), tmpPath, pipeline.Opts{
		Language:            r.FormValue("language"),
		Model:               r.FormValue("model"),
		CandidateProfileIDs: profiles,
	})
	if err != nil {
		h.log.Error().Err(err).Str("file", header.Filename).Msg("pipeline run failed")
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
