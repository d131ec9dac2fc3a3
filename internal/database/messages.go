package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IsVoiceMessage reports whether a message with this id exists and carries
// the voice type discriminator.
func (db *DB) IsVoiceMessage(ctx context.Context, messageID string) (bool, error) {
	var ok bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM msg WHERE msg_svr_id = $1 AND type = $2)
	`, messageID, db.voiceType).Scan(&ok)
	if err != nil {
		return false, storeErr("is voice message", err)
	}
	return ok, nil
}

// VoiceContent returns the raw str_content of a voice message. found is
// false when no voice message has this id.
func (db *DB) VoiceContent(ctx context.Context, messageID string) (string, bool, error) {
	var content string
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(str_content, '') FROM msg
		WHERE msg_svr_id = $1 AND type = $2
		LIMIT 1
	`, messageID, db.voiceType).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("read voice content", err)
	}
	return content, true, nil
}

// VoiceBlob returns the encoded audio payload stored for a message, or nil
// when the media table has no row for it.
func (db *DB) VoiceBlob(ctx context.Context, messageID string) ([]byte, error) {
	var buf []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT buf FROM media WHERE reserved0 = $1 LIMIT 1
	`, messageID).Scan(&buf)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read voice blob", err)
	}
	return buf, nil
}

// LegacyAudioPath would return a file path recorded in message metadata.
// The archive schema has no such column, so the lookup only confirms the
// message exists and always yields an empty path.
func (db *DB) LegacyAudioPath(ctx context.Context, messageID string) (string, error) {
	ok, err := db.IsVoiceMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	db.log.Debug().
		Str("message_id", messageID).
		Bool("voice", ok).
		Msg("no legacy audio path column in message schema")
	return "", nil
}

// ListUntranscribedVoice returns ids of voice messages without a cached
// transcription, oldest id first.
func (db *DB) ListUntranscribedVoice(ctx context.Context, limit int) ([]string, error) {
	if err := db.ensureSchema(ctx); err != nil {
		return nil, storeErr("migrate", err)
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT m.msg_svr_id
		FROM msg m
		LEFT JOIN voice_transcriptions t ON t.message_id = m.msg_svr_id
		WHERE m.type = $1 AND t.message_id IS NULL
		ORDER BY m.msg_svr_id
		LIMIT $2
	`, db.voiceType, limit)
	if err != nil {
		return nil, storeErr("list untranscribed", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("list untranscribed", err)
	}
	return ids, nil
}
