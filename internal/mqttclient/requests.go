package mqttclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/metrics"
	"github.com/snarg/voxarchive/internal/transcribe"
)

var errEmptyRequest = errors.New("request carries no message_id")

// request is the JSON body of a transcription request. A payload that is
// not a JSON object is taken as a bare message id.
type request struct {
	MessageID  string `json:"message_id"`
	AudioPath  string `json:"audio_path"`
	Force      bool   `json:"force"`
	Regenerate bool   `json:"regenerate"`
}

// ParseRequest turns a request payload into a queued job.
func ParseRequest(payload []byte) (transcribe.Job, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return transcribe.Job{}, errEmptyRequest
	}

	var req request
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return transcribe.Job{}, fmt.Errorf("decode request: %w", err)
		}
	} else {
		req.MessageID = strings.Trim(raw, `"`)
	}

	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.MessageID == "" {
		return transcribe.Job{}, errEmptyRequest
	}
	return transcribe.Job{
		MessageID:  req.MessageID,
		AudioPath:  strings.TrimSpace(req.AudioPath),
		Force:      req.Force,
		Regenerate: req.Regenerate,
		Origin:     "mqtt",
	}, nil
}

// Enqueuer accepts jobs. *transcribe.WorkerPool satisfies it.
type Enqueuer interface {
	Enqueue(job transcribe.Job) bool
}

// RequestHandler returns a MessageHandler that queues each valid request.
func RequestHandler(queue Enqueuer, log zerolog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		job, err := ParseRequest(payload)
		if err != nil {
			metrics.MQTTRequestsTotal.WithLabelValues("invalid").Inc()
			log.Warn().Err(err).Str("topic", topic).Int("payload_size", len(payload)).Msg("ignoring transcription request")
			return
		}
		if !queue.Enqueue(job) {
			metrics.MQTTRequestsTotal.WithLabelValues("rejected").Inc()
			log.Warn().Str("message_id", job.MessageID).Msg("transcription queue full, request dropped")
			return
		}
		metrics.MQTTRequestsTotal.WithLabelValues("queued").Inc()
		log.Debug().Str("message_id", job.MessageID).Bool("force", job.Force).Msg("transcription request queued")
	}
}

// EventPublisher returns a transcribe.EventPublishFunc that announces
// generated transcriptions on the event topic.
func (c *Client) EventPublisher() transcribe.EventPublishFunc {
	topic := EventTopic(c.prefix)
	return func(ev transcribe.Event) {
		if err := c.Publish(topic, ev); err != nil {
			c.log.Debug().Err(err).Str("message_id", ev.MessageID).Msg("transcription event not published")
		}
	}
}
