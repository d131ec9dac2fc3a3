package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio"
	"github.com/snarg/voxarchive/internal/audio/audiotest"
	"github.com/snarg/voxarchive/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc      *Service
	backend  *fakeBackend
	cache    *memCache
	resolver *fakeResolver
	events   []Event
	dir      string
}

func newServiceFixture(t *testing.T, kind string, respond func(int, string) (string, error)) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		backend:  newFakeBackend(kind, respond),
		cache:    newMemCache(),
		resolver: &fakeResolver{files: map[string]audio.Resolved{}},
		dir:      t.TempDir(),
	}
	f.svc = NewService(ServiceOptions{
		Backend:      f.backend,
		Cache:        f.cache,
		Resolver:     f.resolver,
		ChunkSeconds: 10,
		PublishEvent: func(ev Event) { f.events = append(f.events, ev) },
		Log:          zerolog.Nop(),
	})
	f.svc.chunker.tempDir = f.dir
	return f
}

// voice registers a WAV of the given length as the store audio for id.
func (f *serviceFixture) voice(t *testing.T, id string, seconds float64, temporary bool) string {
	t.Helper()
	path := audiotest.WriteTone(t, f.dir, id+".wav", seconds, 8000)
	f.resolver.files[id] = audio.Resolved{Path: path, Temporary: temporary, Origin: audio.OriginBlob}
	return path
}

func TestTranscribeCachedHit(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"fresh"}, nil))
	f.cache.records["m1"] = "hi there"

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi there", res.Text)
	assert.Equal(t, SourceCached, res.Source)
	assert.Equal(t, KindNone, res.Backend)
	assert.False(t, res.Forced)
	assert.Zero(t, f.resolver.calls, "cache hit must not resolve audio")
	assert.Empty(t, f.backend.Calls())
}

func TestTranscribeGeneratesThenCaches(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"hello"}, nil))
	f.voice(t, "m1", 5, false)
	ctx := context.Background()

	first, err := f.svc.Transcribe(ctx, Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, "hello", first.Text)
	assert.Equal(t, SourceGenerated, first.Source)
	assert.Equal(t, KindRemote, first.Backend)

	text, ok := f.cache.record("m1")
	require.True(t, ok)
	assert.Equal(t, "hello", text)

	require.Len(t, f.events, 1)
	assert.Equal(t, "m1", f.events[0].MessageID)
	assert.Equal(t, "hello", f.events[0].Text)
	assert.Equal(t, "fake-1", f.events[0].Model)

	second, err := f.svc.Transcribe(ctx, Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, SourceCached, second.Source)
	assert.Equal(t, first.Text, second.Text)
	assert.Len(t, f.backend.Calls(), 1, "second call must be served from cache")
}

func TestTranscribeLongVoiceChunked(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence(
		[]string{"hello", "", "world"},
		[]error{nil, ErrBackendCallFailed, nil},
	))
	f.voice(t, "m1", 30, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hello\nworld", res.Text)

	text, _ := f.cache.record("m1")
	assert.Equal(t, "hello\nworld", text)
	assert.Len(t, f.backend.Calls(), 3)
}

func TestTranscribeAudioUnavailable(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"never"}, nil))
	f.resolver.err = fmt.Errorf("%w: message m404: no voice blob", audio.ErrAudioUnavailable)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m404"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindNone, res.Backend)
	assert.Contains(t, res.Message, "no voice blob")
	assert.Empty(t, f.backend.Calls())
	_, ok := f.cache.record("m404")
	assert.False(t, ok)
}

func TestTranscribeForceBypassesCache(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"new text"}, nil))
	f.cache.records["m1"] = "old text"
	f.voice(t, "m1", 3, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1", Force: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Forced)
	assert.Equal(t, "new text", res.Text)
	assert.Zero(t, f.cache.gets)

	text, _ := f.cache.record("m1")
	assert.Equal(t, "new text", text)
}

func TestRegenerateFailureLeavesNoRecord(t *testing.T) {
	f := newServiceFixture(t, KindRemote, func(int, string) (string, error) {
		return "", ErrBackendCallFailed
	})
	f.cache.records["m1"] = "stale"
	f.voice(t, "m1", 3, false)

	res, err := f.svc.Regenerate(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Regenerated)
	assert.True(t, res.DeletedPrevious)
	assert.True(t, res.Forced)
	assert.Equal(t, KindRemote, res.Backend)

	_, ok := f.cache.record("m1")
	assert.False(t, ok, "regeneration must delete the previous record even when it fails")
}

func TestRegenerateDeleteFailureContinues(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"again"}, nil))
	f.cache.deleteErr = errors.New("lock timeout")
	f.voice(t, "m1", 3, false)

	res, err := f.svc.Regenerate(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Regenerated)
	assert.False(t, res.DeletedPrevious)
	assert.Equal(t, "again", res.Text)
}

func TestTranscribePutFailureSurfaces(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"hello"}, nil))
	f.cache.putErr = errors.New("constraint violation")
	f.voice(t, "m1", 3, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	assert.Nil(t, res)
	var se *database.StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, f.cache.putErr)
	assert.Empty(t, f.events)
}

func TestTranscribeCacheReadFaultIsMiss(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"hello"}, nil))
	f.cache.getErr = errors.New("connection reset")
	f.voice(t, "m1", 3, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, SourceGenerated, res.Source)
}

func TestTranscribeRemovesTemporaryAudio(t *testing.T) {
	tests := []struct {
		name      string
		respond   func(int, string) (string, error)
		temporary bool
		wantGone  bool
	}{
		{"temporary_success", sequence([]string{"ok"}, nil), true, true},
		{"temporary_failure", sequence(nil, []error{ErrBackendCallFailed, ErrBackendCallFailed}), true, true},
		{"caller_file_kept", sequence([]string{"ok"}, nil), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, KindRemote, tt.respond)
			path := f.voice(t, "m1", 3, tt.temporary)

			_, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
			require.NoError(t, err)

			_, statErr := os.Stat(path)
			assert.Equal(t, tt.wantGone, errors.Is(statErr, os.ErrNotExist))
		})
	}
}

func TestTranscribeRemoteRetriesInChunks(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence(
		[]string{"", "recovered"},
		[]error{ErrBackendCallFailed, nil},
	))
	path := f.voice(t, "m1", 8, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "recovered", res.Text)

	calls := f.backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, path, calls[0].Path, "first attempt sends the whole file")
	assert.NotEqual(t, path, calls[1].Path, "retry sends a chunk")
}

func TestTranscribeRemoteNonWAVNoRetry(t *testing.T) {
	f := newServiceFixture(t, KindRemote, func(int, string) (string, error) {
		return "", ErrBackendCallFailed
	})
	mp3 := audiotest.WriteFile(t, f.dir, "m1.mp3", []byte("ID3\x03\x00"))
	f.resolver.files["m1"] = audio.Resolved{Path: mp3, Origin: audio.OriginSupplied}

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindRemote, res.Backend)
	assert.Contains(t, res.Message, "remote")
	assert.Len(t, f.backend.Calls(), 1)
}

func TestTranscribeRemoteEmptyTextNoRetry(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"   "}, nil))
	f.voice(t, "m1", 3, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, f.backend.Calls(), 1)
	_, ok := f.cache.record("m1")
	assert.False(t, ok)
}

func TestTranscribeRemoteInvalidWAVRejected(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"zero_frames", audiotest.PCM16WAV(nil, 8000, 1)},
		{"zero_sample_rate", audiotest.PCM16WAV(make([]int16, 8000), 0, 1)},
		{"zero_channels", audiotest.PCM16WAV(nil, 8000, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, KindRemote, func(int, string) (string, error) {
				return "spurious", nil
			})
			path := audiotest.WriteFile(t, f.dir, "m1.wav", tt.data)
			f.resolver.files["m1"] = audio.Resolved{Path: path, Origin: audio.OriginSupplied}

			res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, ErrInvalidAudioParameters.Error())
			assert.Empty(t, f.backend.Calls())
			_, ok := f.cache.record("m1")
			assert.False(t, ok)
			assert.Empty(t, f.events)
		})
	}
}

func TestTranscribeLocalNeverChunks(t *testing.T) {
	f := newServiceFixture(t, KindLocal, sequence([]string{"local text"}, nil))
	path := f.voice(t, "m1", 30, false)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, KindLocal, res.Backend)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, path, calls[0].Path)
}

func TestTranscribeSuppliedPath(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"from file"}, nil))
	path := audiotest.WriteTone(t, f.dir, "upload.wav", 2, 8000)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m9", AudioPath: path, HostPath: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, path, f.backend.Calls()[0].Path)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "caller-supplied audio is never removed")
}

func TestTranscribeHostPathNeedsPermission(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"leaked"}, nil))
	path := audiotest.WriteTone(t, f.dir, "host.wav", 2, 8000)

	res, err := f.svc.Transcribe(context.Background(), Request{MessageID: "m9", AudioPath: path})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, f.backend.Calls())
	require.Len(t, f.resolver.hints, 1)
	assert.Equal(t, audio.Hint{Path: path}, f.resolver.hints[0])
}

func TestRegenerateKeepsHint(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence([]string{"again"}, nil))
	path := audiotest.WriteTone(t, f.dir, "cli.wav", 2, 8000)

	res, err := f.svc.Regenerate(context.Background(), Request{MessageID: "m1", AudioPath: path, HostPath: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Forced)
	assert.Equal(t, []audio.Hint{{Path: path, HostPath: true}}, f.resolver.hints)
}

func TestTranscribeRequiresMessageID(t *testing.T) {
	f := newServiceFixture(t, KindRemote, sequence(nil, nil))
	res, err := f.svc.Transcribe(context.Background(), Request{AudioPath: filepath.Join(f.dir, "x.wav")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, f.resolver.calls)
}
