package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// voiceTypeName is the wl_msg type label of voice messages.
const voiceTypeName = "语音"

// Transcription is a cached transcription record.
type Transcription struct {
	MessageID string    `json:"message_id"`
	Text      string    `json:"transcription"`
	CreatedAt time.Time `json:"created_at"`
}

// CachedTranscription returns the cached record for a message. found is
// false when none exists.
func (db *DB) CachedTranscription(ctx context.Context, messageID string) (*Transcription, bool, error) {
	if err := db.ensureSchema(ctx); err != nil {
		return nil, false, storeErr("migrate", err)
	}
	t := Transcription{MessageID: messageID}
	err := db.Pool.QueryRow(ctx, `
		SELECT transcription, created_at FROM voice_transcriptions
		WHERE message_id = $1
	`, messageID).Scan(&t.Text, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("read transcription", err)
	}
	return &t, true, nil
}

// UpsertTranscription stores text for a message in a transaction:
// 1) Inserts or replaces the voice_transcriptions row
// 2) Backfills wl_msg.textualized_content where it is still NULL, if the
//    denormalized table exists
func (db *DB) UpsertTranscription(ctx context.Context, messageID, text string) error {
	if err := db.ensureSchema(ctx); err != nil {
		return storeErr("migrate", err)
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return storeErr("begin upsert", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO voice_transcriptions (message_id, transcription, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (message_id) DO UPDATE SET
			transcription = EXCLUDED.transcription,
			created_at = EXCLUDED.created_at
	`, messageID, text)
	if err != nil {
		return storeErr("upsert transcription", err)
	}

	hasDenorm, err := denormTableExists(ctx, tx)
	if err != nil {
		return storeErr("check wl_msg", err)
	}
	if hasDenorm {
		_, err = tx.Exec(ctx, `
			UPDATE wl_msg SET textualized_content = $2
			WHERE msg_svr_id = $1 AND type_name = $3 AND textualized_content IS NULL
		`, messageID, text, voiceTypeName)
		if err != nil {
			return storeErr("update wl_msg denorm", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit upsert", err)
	}
	return nil
}

// DeleteTranscription removes the cached record and clears the
// denormalized text for the message. existed reports whether a record was
// removed.
func (db *DB) DeleteTranscription(ctx context.Context, messageID string) (bool, error) {
	if err := db.ensureSchema(ctx); err != nil {
		return false, storeErr("migrate", err)
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, storeErr("begin delete", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM voice_transcriptions WHERE message_id = $1`, messageID)
	if err != nil {
		return false, storeErr("delete transcription", err)
	}

	hasDenorm, err := denormTableExists(ctx, tx)
	if err != nil {
		return false, storeErr("check wl_msg", err)
	}
	if hasDenorm {
		_, err = tx.Exec(ctx, `
			UPDATE wl_msg SET textualized_content = NULL
			WHERE msg_svr_id = $1 AND type_name = $2
		`, messageID, voiceTypeName)
		if err != nil {
			return false, storeErr("clear wl_msg denorm", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storeErr("commit delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TranscriptionCounts summarizes cache coverage for diagnostics.
type TranscriptionCounts struct {
	VoiceMessages  int64 `json:"voice_messages"`
	Transcriptions int64 `json:"transcriptions"`
	Orphans        int64 `json:"orphans"`
	DenormMissing  int64 `json:"denorm_missing"`
}

// CountTranscriptions reports how many voice messages exist, how many are
// cached, how many cache rows have no voice message behind them and how
// many wl_msg rows still lack text that the cache could supply.
func (db *DB) CountTranscriptions(ctx context.Context) (*TranscriptionCounts, error) {
	if err := db.ensureSchema(ctx); err != nil {
		return nil, storeErr("migrate", err)
	}
	var c TranscriptionCounts
	err := db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM msg WHERE type = $1),
			(SELECT count(*) FROM voice_transcriptions),
			(SELECT count(*) FROM voice_transcriptions t
				WHERE NOT EXISTS (SELECT 1 FROM msg m WHERE m.msg_svr_id = t.message_id AND m.type = $1))
	`, db.voiceType).Scan(&c.VoiceMessages, &c.Transcriptions, &c.Orphans)
	if err != nil {
		return nil, storeErr("count transcriptions", err)
	}

	var hasDenorm bool
	if err := db.Pool.QueryRow(ctx, `SELECT to_regclass('public.wl_msg') IS NOT NULL`).Scan(&hasDenorm); err != nil {
		return nil, storeErr("check wl_msg", err)
	}
	if hasDenorm {
		err = db.Pool.QueryRow(ctx, `
			SELECT count(*) FROM wl_msg w
			JOIN voice_transcriptions t ON t.message_id = w.msg_svr_id
			WHERE w.type_name = $1 AND w.textualized_content IS NULL
		`, voiceTypeName).Scan(&c.DenormMissing)
		if err != nil {
			return nil, storeErr("count denorm", err)
		}
	}
	return &c, nil
}

// BackfillDenorm copies cached text into wl_msg rows that are still NULL.
// It returns the number of rows updated; zero when wl_msg does not exist.
func (db *DB) BackfillDenorm(ctx context.Context) (int64, error) {
	if err := db.ensureSchema(ctx); err != nil {
		return 0, storeErr("migrate", err)
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, storeErr("begin backfill", err)
	}
	defer tx.Rollback(ctx)

	hasDenorm, err := denormTableExists(ctx, tx)
	if err != nil {
		return 0, storeErr("check wl_msg", err)
	}
	if !hasDenorm {
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE wl_msg w SET textualized_content = t.transcription
		FROM voice_transcriptions t
		WHERE t.message_id = w.msg_svr_id
			AND w.type_name = $1 AND w.textualized_content IS NULL
	`, voiceTypeName)
	if err != nil {
		return 0, storeErr("backfill wl_msg", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("commit backfill", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOrphanTranscriptions removes cache rows with no voice message.
func (db *DB) DeleteOrphanTranscriptions(ctx context.Context) (int64, error) {
	if err := db.ensureSchema(ctx); err != nil {
		return 0, storeErr("migrate", err)
	}
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM voice_transcriptions t
		WHERE NOT EXISTS (SELECT 1 FROM msg m WHERE m.msg_svr_id = t.message_id AND m.type = $1)
	`, db.voiceType)
	if err != nil {
		return 0, storeErr("delete orphans", err)
	}
	return tag.RowsAffected(), nil
}

func denormTableExists(ctx context.Context, tx pgx.Tx) (bool, error) {
	var ok bool
	if err := tx.QueryRow(ctx, `SELECT to_regclass('public.wl_msg') IS NOT NULL`).Scan(&ok); err != nil {
		return false, fmt.Errorf("to_regclass: %w", err)
	}
	return ok, nil
}
