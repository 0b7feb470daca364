package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/voiceprint"
)

// ProfilesHandler exposes voiceprint profile management: enrollment,
// verification, and identification.
type ProfilesHandler struct {
	vp     provider.Voiceprint
	store  *voiceprint.Store
	tmpDir string
	log    zerolog.Logger
}

func NewProfilesHandler(vp provider.Voiceprint, store *voiceprint.Store, tmpDir string, log zerolog.Logger) *ProfilesHandler {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &ProfilesHandler{
		vp:     vp,
		store:  store,
		tmpDir: tmpDir,
		log:    log.With().Str("handler", "profiles").Logger(),
	}
}

// Routes registers profile routes on the given router.
func (h *ProfilesHandler) Routes(r chi.Router) {
	r.Post("/profiles", h.Create)
	r.Get("/profiles/{id}", h.Get)
	r.Delete("/profiles/{id}", h.Delete)
	r.Post("/profiles/{id}/enroll", h.Enroll)
	r.Post("/profiles/{id}/verify", h.Verify)
	r.Post("/profiles/identify", h.Identify)
}

type createProfileRequest struct {
	OwnerID string `json:"ownerId"`
}

// Create handles POST /api/v1/profiles.
func (h *ProfilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
			return
		}
	}

	id, err := h.vp.CreateProfile(r.Context(), req.OwnerID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	prof, err := h.store.Get(id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, prof)
}

// Get handles GET /api/v1/profiles/{id}.
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	prof, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, prof)
}

// Delete handles DELETE /api/v1/profiles/{id}.
func (h *ProfilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.vp.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// saveSample spools the uploaded audio sample to a temp file and returns
// its path with a cleanup function.
func (h *ProfilesHandler) saveSample(w http.ResponseWriter, r *http.Request) (string, func(), bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return "", nil, false
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "missing audio file field")
		return "", nil, false
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".wav"
	}
	path := filepath.Join(h.tmpDir, "sample-"+uuid.NewString()+ext)
	out, err := os.Create(path)
	if err != nil {
		h.log.Error().Err(err).Msg("create sample temp file")
		WriteError(w, http.StatusInternalServerError, "failed to store sample")
		return "", nil, false
	}
	_, err = io.Copy(out, file)
	out.Close()
	if err != nil {
		os.Remove(path)
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read audio file")
		return "", nil, false
	}
	cleanup := func() {
		os.Remove(path)
		r.MultipartForm.RemoveAll()
	}
	return path, cleanup, true
}

// Enroll handles POST /api/v1/profiles/{id}/enroll.
func (h *ProfilesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := h.saveSample(w, r)
	if !ok {
		return
	}
	defer cleanup()

	res, err := h.vp.EnrollProfile(r.Context(), chi.URLParam(r, "id"), path)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Verify handles POST /api/v1/profiles/{id}/verify: a 1:1 check of the
// uploaded sample against the profile.
func (h *ProfilesHandler) Verify(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := h.saveSample(w, r)
	if !ok {
		return
	}
	defer cleanup()

	res, err := h.vp.VerifySpeaker(r.Context(), chi.URLParam(r, "id"), path)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Identify handles POST /api/v1/profiles/identify: a 1:N lookup of the
// uploaded sample against the candidate profiles named in the "profiles"
// form field.
func (h *ProfilesHandler) Identify(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := h.saveSample(w, r)
	if !ok {
		return
	}
	defer cleanup()

	var candidates []string
	for _, p := range strings.Split(r.FormValue("profiles"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "no candidate profiles given")
		return
	}

	res, err := h.vp.IdentifySpeaker(r.Context(), path, candidates)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
