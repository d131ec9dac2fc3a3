package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrAudioUnavailable means no usable audio file could be produced for
	// a message.
	ErrAudioUnavailable = errors.New("audio unavailable")
	// ErrDecoderUnavailable means the binary carries no SILK decoder.
	ErrDecoderUnavailable = errors.New("silk decoder unavailable")
)

// Where a resolved file came from.
const (
	OriginSupplied = "supplied"
	OriginAudioDir = "audio_dir"
	OriginObject   = "object_store"
	OriginLegacy   = "legacy"
	OriginBlob     = "voice_blob"
)

// MessageStore is the slice of the message archive the resolver reads.
type MessageStore interface {
	LegacyAudioPath(ctx context.Context, messageID string) (string, error)
	IsVoiceMessage(ctx context.Context, messageID string) (bool, error)
	VoiceBlob(ctx context.Context, messageID string) ([]byte, error)
}

// ObjectSource locates stored audio by key: on local disk when possible,
// otherwise as a stream.
type ObjectSource interface {
	LocalPath(key string) string
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Decoder turns an encoded voice blob into mono PCM16 samples.
type Decoder interface {
	Decode(data []byte) ([]int16, int, error)
}

// Hint is audio supplied with a request. Path is a key in the audio store:
// a path under the audio directory or an s3:// reference. With HostPath set
// Path may also name any existing local file; only operator-side callers
// such as the CLI and the inbox watcher set it.
type Hint struct {
	Path     string
	HostPath bool
}

// Resolved is a playable audio file. Temporary files were created by the
// resolver and belong to the caller.
type Resolved struct {
	Path      string
	Temporary bool
	Origin    string
}

// Cleanup removes the file if the resolver created it.
func (r Resolved) Cleanup() error {
	if !r.Temporary || r.Path == "" {
		return nil
	}
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Resolver finds audio for a voice message.
type Resolver struct {
	store   MessageStore
	objects ObjectSource
	decoder Decoder
	tempDir string
	log     zerolog.Logger
}

// NewResolver builds a resolver. objects and decoder may be nil.
func NewResolver(store MessageStore, objects ObjectSource, decoder Decoder, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:   store,
		objects: objects,
		decoder: decoder,
		log:     log,
	}
}

// Resolve returns a playable file for messageID. A non-empty hint is tried
// first (see Hint). Without one the message store is consulted for a
// legacy path. Finally the encoded voice blob is decoded into a temporary
// WAV.
func (r *Resolver) Resolve(ctx context.Context, messageID string, hint Hint) (Resolved, error) {
	var last error

	if hint.Path != "" {
		res, err := r.fromHint(ctx, hint)
		if err == nil {
			return res, nil
		}
		r.log.Debug().Err(err).Str("message_id", messageID).Str("hint", hint.Path).Msg("supplied audio not usable")
		last = err
	}

	if r.store == nil {
		return Resolved{}, unavailable(messageID, last)
	}

	if hint.Path == "" {
		if path, err := r.store.LegacyAudioPath(ctx, messageID); err != nil {
			last = err
		} else if path != "" && fileExists(path) {
			return Resolved{Path: path, Origin: OriginLegacy}, nil
		} else {
			r.log.Debug().Str("message_id", messageID).Msg("no legacy audio path")
		}
	}

	res, err := r.fromBlob(ctx, messageID)
	if err == nil {
		return res, nil
	}
	return Resolved{}, unavailable(messageID, err)
}

// fromHint locates a supplied path or store key. SILK files are decoded
// into a temporary WAV since no backend reads them.
func (r *Resolver) fromHint(ctx context.Context, hint Hint) (Resolved, error) {
	res, err := r.locateHint(ctx, hint)
	if err != nil || !strings.EqualFold(filepath.Ext(res.Path), ".silk") {
		return res, err
	}
	defer res.Cleanup()

	if r.decoder == nil {
		return Resolved{}, ErrDecoderUnavailable
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		return Resolved{}, fmt.Errorf("read silk file: %w", err)
	}
	path, err := r.decode(data)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Path: path, Temporary: true, Origin: res.Origin}, nil
}

func (r *Resolver) locateHint(ctx context.Context, hint Hint) (Resolved, error) {
	key := hint.Path
	if hint.HostPath && fileExists(key) {
		return Resolved{Path: key, Origin: OriginSupplied}, nil
	}
	if r.objects == nil {
		return Resolved{}, fmt.Errorf("%s: not in the audio store: %w", key, os.ErrNotExist)
	}
	if path := r.objects.LocalPath(key); path != "" {
		return Resolved{Path: path, Origin: OriginAudioDir}, nil
	}

	rc, err := r.objects.Open(ctx, key)
	if err != nil {
		return Resolved{}, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	path, err := r.spool(rc, extOf(key))
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Path: path, Temporary: true, Origin: OriginObject}, nil
}

func (r *Resolver) fromBlob(ctx context.Context, messageID string) (Resolved, error) {
	ok, err := r.store.IsVoiceMessage(ctx, messageID)
	if err != nil {
		return Resolved{}, err
	}
	if !ok {
		return Resolved{}, fmt.Errorf("message %s is not a voice message", messageID)
	}

	if r.decoder == nil {
		r.log.Warn().Str("message_id", messageID).Msg("skipping voice blob, no decoder in this build")
		return Resolved{}, ErrDecoderUnavailable
	}

	blob, err := r.store.VoiceBlob(ctx, messageID)
	if err != nil {
		return Resolved{}, err
	}
	if len(blob) == 0 {
		return Resolved{}, fmt.Errorf("message %s has no voice blob", messageID)
	}

	path, err := r.decode(blob)
	if err != nil {
		return Resolved{}, err
	}
	r.log.Debug().Str("message_id", messageID).Int("blob_bytes", len(blob)).Msg("decoded voice blob")
	return Resolved{Path: path, Temporary: true, Origin: OriginBlob}, nil
}

// decode turns encoded voice data into a temporary PCM16 WAV file.
func (r *Resolver) decode(data []byte) (string, error) {
	samples, rate, err := r.decoder.Decode(data)
	if err != nil {
		return "", fmt.Errorf("decode voice data: %w", err)
	}

	f, err := os.CreateTemp(r.tempDir, "voxarchive-voice-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := WritePCM16WAV(path, samples, rate); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// spool copies rc into a temporary file with the given extension.
func (r *Resolver) spool(rc io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(r.tempDir, "voxarchive-audio-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp: %w", err)
	}
	return path, nil
}

func unavailable(messageID string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: message %s", ErrAudioUnavailable, messageID)
	}
	return fmt.Errorf("%w: message %s: %w", ErrAudioUnavailable, messageID, cause)
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func extOf(key string) string {
	ext := filepath.Ext(key)
	if ext == "" || strings.ContainsAny(ext, "/?") {
		return ""
	}
	return strings.ToLower(ext)
}
