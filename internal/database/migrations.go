package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations creates the tables the engine owns. The archive's own tables
// (msg, media, wl_msg) are never created or altered here.
var migrations = []migration{
	{
		name: "create voice_transcriptions",
		sql: `CREATE TABLE IF NOT EXISTS voice_transcriptions (
			message_id    text PRIMARY KEY,
			transcription text NOT NULL,
			created_at    timestamptz NOT NULL DEFAULT now()
		)`,
		check: `SELECT to_regclass('public.voice_transcriptions') IS NOT NULL`,
	},
	{
		name:  "add voice_transcriptions created_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_voice_transcriptions_created ON voice_transcriptions (created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_voice_transcriptions_created')`,
	},
}

// Migrate runs all pending schema migrations.
// A migration whose check query reports it as present is skipped. A failed
// apply stops the run and returns a *MigrationError.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// ensureSchema runs Migrate once per process, on first use of the cache
// table. A failed attempt is retried on the next call.
func (db *DB) ensureSchema(ctx context.Context) error {
	db.schemaMu.Lock()
	defer db.schemaMu.Unlock()
	if db.schemaReady {
		return nil
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	db.schemaReady = true
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart voxarchive.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
