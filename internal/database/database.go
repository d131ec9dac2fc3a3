package database

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DefaultVoiceType is the message type discriminator the archive uses for
// voice messages.
const DefaultVoiceType = 34

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger

	voiceType int

	schemaMu    sync.Mutex
	schemaReady bool
}

// Options tune the connection pool and the archive's message schema.
type Options struct {
	VoiceType int
	MaxConns  int32
	MinConns  int32
}

func Connect(ctx context.Context, databaseURL string, opts Options, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")

	return newDB(pool, opts.VoiceType, log), nil
}

func newDB(pool *pgxpool.Pool, voiceType int, log zerolog.Logger) *DB {
	if voiceType == 0 {
		voiceType = DefaultVoiceType
	}
	return &DB{Pool: pool, log: log, voiceType: voiceType}
}

// VoiceType returns the message type treated as a voice message.
func (db *DB) VoiceType() int { return db.voiceType }

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}

// StoreError reports a failed persistence operation. Any open transaction
// has been rolled back by the time it is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
