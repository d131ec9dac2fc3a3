// Package cache keeps one transcription per voice message in the archive
// store and reads transcriptions the archive already embeds in message XML.
package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/database"
)

// Backing is the persistence the cache reads and writes.
type Backing interface {
	VoiceContent(ctx context.Context, messageID string) (string, bool, error)
	CachedTranscription(ctx context.Context, messageID string) (*database.Transcription, bool, error)
	UpsertTranscription(ctx context.Context, messageID, text string) error
	DeleteTranscription(ctx context.Context, messageID string) (bool, error)
}

var errEmptyText = errors.New("refusing to cache empty transcription")

// Store is a read-through, write-through transcription cache.
type Store struct {
	db  Backing
	log zerolog.Logger
}

func New(db Backing, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Get returns the transcription for messageID. A transcription embedded in
// the message XML wins over the cache table. found is false when neither
// has one.
func (s *Store) Get(ctx context.Context, messageID string) (string, bool, error) {
	content, ok, err := s.db.VoiceContent(ctx, messageID)
	if err != nil {
		return "", false, err
	}
	if ok && content != "" {
		if text := s.inline(messageID, content); text != "" {
			return text, true, nil
		}
	}

	rec, ok, err := s.db.CachedTranscription(ctx, messageID)
	if err != nil {
		return "", false, err
	}
	if !ok || rec.Text == "" {
		return "", false, nil
	}
	return rec.Text, true, nil
}

// Put records text as the transcription of messageID. Failures come back
// as *database.StoreError with nothing committed.
func (s *Store) Put(ctx context.Context, messageID, text string) error {
	if strings.TrimSpace(text) == "" {
		return &database.StoreError{Op: "put", Err: errEmptyText}
	}
	return s.db.UpsertTranscription(ctx, messageID, text)
}

// Delete removes the cached transcription and reports whether one existed.
func (s *Store) Delete(ctx context.Context, messageID string) (bool, error) {
	return s.db.DeleteTranscription(ctx, messageID)
}

// inline extracts the voicemsg transcription attribute from message XML.
// Anything unparseable counts as no transcription.
func (s *Store) inline(messageID, content string) string {
	doc, err := xmlquery.Parse(strings.NewReader(content))
	if err != nil {
		s.log.Debug().Err(err).Str("message_id", messageID).Msg("message content is not xml")
		return ""
	}
	node := xmlquery.FindOne(doc, "/*/voicemsg[@transcription]")
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.SelectAttr("transcription"))
}
