package api

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/transcribe"
)

// maxUploadBytes caps an uploaded voice file.
const maxUploadBytes = 32 << 20

// uploadExts are the containers accepted for uploaded audio.
var uploadExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".silk": true,
}

// AudioSaver persists uploaded audio under a key the resolver can find.
// *storage.LocalStore satisfies it.
type AudioSaver interface {
	Save(ctx context.Context, key string, data []byte) error
}

// UploadHandler accepts a voice file for a message and transcribes it.
type UploadHandler struct {
	store AudioSaver
	svc   Transcriber
	log   zerolog.Logger
}

func NewUploadHandler(store AudioSaver, svc Transcriber, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		store: store,
		svc:   svc,
		log:   log.With().Str("handler", "upload").Logger(),
	}
}

// Routes registers the upload endpoint.
func (h *UploadHandler) Routes(r chi.Router) {
	r.Post("/messages/{id}/audio", h.Upload)
}

// Upload handles POST /api/v1/messages/{id}/audio. The multipart field
// "audio" is stored as <id><ext> in the audio directory and transcribed
// with force, since new audio invalidates any cached text.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, http.StatusServiceUnavailable, "audio uploads not configured")
		return
	}
	id, err := PathMessageID(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid message ID", err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !uploadExts[ext] {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType, "unsupported audio type", ext)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "empty audio file")
		return
	}

	key := id + ext
	if err := h.store.Save(r.Context(), key, data); err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("failed to save uploaded audio")
		WriteError(w, http.StatusInternalServerError, "failed to save audio")
		return
	}
	h.log.Info().Str("message_id", id).Str("key", key).Int("bytes", len(data)).Msg("audio uploaded")

	res, err := h.svc.Transcribe(r.Context(), transcribe.Request{MessageID: id, AudioPath: key, Force: true})
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("transcription could not be stored")
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to store transcription", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}
