package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/transcribe"
)

// Transcriber runs transcriptions synchronously. *transcribe.Service
// satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error)
	Regenerate(ctx context.Context, req transcribe.Request) (*transcribe.Result, error)
	Backend() transcribe.Backend
}

// TranscriptionReader reads and removes cached transcriptions.
type TranscriptionReader interface {
	Get(ctx context.Context, messageID string) (string, bool, error)
	Delete(ctx context.Context, messageID string) (bool, error)
}

// JobQueue accepts background transcription jobs.
type JobQueue interface {
	Enqueue(job transcribe.Job) bool
	Stats() transcribe.QueueStats
}

// PendingLister lists voice messages that have no cached transcription.
type PendingLister interface {
	ListUntranscribedVoice(ctx context.Context, limit int) ([]string, error)
}

const (
	defaultBatchLimit = 100
	maxBatchLimit     = 5000
)

type TranscriptionsDeps struct {
	Transcriber Transcriber
	Cache       TranscriptionReader
	Queue       JobQueue
	Pending     PendingLister
	Log         zerolog.Logger
}

type TranscriptionsHandler struct {
	svc     Transcriber
	cache   TranscriptionReader
	queue   JobQueue
	pending PendingLister
	log     zerolog.Logger
}

func NewTranscriptionsHandler(d TranscriptionsDeps) *TranscriptionsHandler {
	return &TranscriptionsHandler{
		svc:     d.Transcriber,
		cache:   d.Cache,
		queue:   d.Queue,
		pending: d.Pending,
		log:     d.Log.With().Str("handler", "transcriptions").Logger(),
	}
}

func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Get("/messages/{id}/transcription", h.GetTranscription)
	r.Delete("/messages/{id}/transcription", h.DeleteTranscription)
	r.Post("/messages/{id}/transcribe", h.TranscribeMessage)
	r.Post("/messages/{id}/transcription/regenerate", h.RegenerateTranscription)
	r.Post("/transcriptions/batch", h.EnqueueBatch)
	r.Get("/transcriptions/queue", h.GetQueueStats)
}

// GetTranscription returns the cached transcription for a message.
func (h *TranscriptionsHandler) GetTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := PathMessageID(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid message ID", err.Error())
		return
	}

	text, found, err := h.cache.Get(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("cache read failed")
		WriteError(w, http.StatusInternalServerError, "failed to read transcription")
		return
	}
	if !found {
		WriteError(w, http.StatusNotFound, "no transcription found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"message_id":    id,
		"transcription": text,
	})
}

// DeleteTranscription drops the cached transcription for a message.
func (h *TranscriptionsHandler) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := PathMessageID(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid message ID", err.Error())
		return
	}

	deleted, err := h.cache.Delete(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("cache delete failed")
		WriteError(w, http.StatusInternalServerError, "failed to delete transcription")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"message_id": id,
		"deleted":    deleted,
	})
}

// TranscribeMessage transcribes a message synchronously. An unsuccessful
// transcription is still a 200 carrying success=false; only a failed cache
// write is a server error.
func (h *TranscriptionsHandler) TranscribeMessage(w http.ResponseWriter, r *http.Request) {
	id, err := PathMessageID(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid message ID", err.Error())
		return
	}

	var body struct {
		AudioPath string `json:"audio_path"`
		Force     bool   `json:"force"`
	}
	if err := DecodeOptionalJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if f, ok := QueryBool(r, "force"); ok {
		body.Force = f
	}

	res, err := h.svc.Transcribe(r.Context(), transcribe.Request{
		MessageID: id,
		AudioPath: strings.TrimSpace(body.AudioPath),
		Force:     body.Force,
	})
	h.writeResult(w, id, res, err)
}

// RegenerateTranscription deletes any cached transcription and runs the
// backend again.
func (h *TranscriptionsHandler) RegenerateTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := PathMessageID(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid message ID", err.Error())
		return
	}

	var body struct {
		AudioPath string `json:"audio_path"`
	}
	if err := DecodeOptionalJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.svc.Regenerate(r.Context(), transcribe.Request{
		MessageID: id,
		AudioPath: strings.TrimSpace(body.AudioPath),
	})
	h.writeResult(w, id, res, err)
}

func (h *TranscriptionsHandler) writeResult(w http.ResponseWriter, id string, res *transcribe.Result, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("transcription could not be stored")
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		WriteErrorDetail(w, status, "failed to store transcription", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// EnqueueBatch queues background transcriptions, either for the listed
// message ids or for up to limit voice messages without a transcription.
func (h *TranscriptionsHandler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcription queue not configured")
		return
	}

	var body struct {
		MessageIDs []string `json:"message_ids"`
		Pending    bool     `json:"pending"`
		Limit      int      `json:"limit"`
		Force      bool     `json:"force"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ids := body.MessageIDs
	if body.Pending {
		if h.pending == nil {
			WriteError(w, http.StatusServiceUnavailable, "pending listing not configured")
			return
		}
		limit := body.Limit
		if n, ok := QueryInt(r, "limit"); ok && limit <= 0 {
			limit = n
		}
		if limit <= 0 {
			limit = defaultBatchLimit
		}
		if limit > maxBatchLimit {
			limit = maxBatchLimit
		}
		listed, err := h.pending.ListUntranscribedVoice(r.Context(), limit)
		if err != nil {
			h.log.Error().Err(err).Msg("list untranscribed voice messages failed")
			WriteError(w, http.StatusInternalServerError, "failed to list pending messages")
			return
		}
		ids = append(ids, listed...)
	}
	if len(ids) == 0 {
		WriteError(w, http.StatusBadRequest, "message_ids or pending is required")
		return
	}

	queued, rejected := 0, []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if h.queue.Enqueue(transcribe.Job{MessageID: id, Force: body.Force, Origin: "api"}) {
			queued++
		} else {
			rejected = append(rejected, id)
		}
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"queued":   queued,
		"rejected": rejected,
		"queue":    h.queue.Stats(),
	})
}

// GetQueueStats returns transcription queue statistics.
func (h *TranscriptionsHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "not_configured"})
		return
	}
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}
