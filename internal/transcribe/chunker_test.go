package transcribe

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio/audiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, b Backend) *Chunker {
	t.Helper()
	c := NewChunker(b, 10, zerolog.Nop())
	c.tempDir = t.TempDir()
	return c
}

func TestTranscribeLongFailedChunkOmitted(t *testing.T) {
	path := audiotest.WriteTone(t, t.TempDir(), "long.wav", 30, 8000)
	b := newFakeBackend(KindRemote, sequence(
		[]string{"hello", "", "world"},
		[]error{nil, ErrBackendCallFailed, nil},
	))
	c := newTestChunker(t, b)

	text, err := c.TranscribeLong(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)

	calls := b.Calls()
	require.Len(t, calls, 3)
	for _, call := range calls {
		assert.True(t, call.IsWAV)
		assert.Equal(t, int64(80000), call.Info.Frames)
		assert.Equal(t, 8000, call.Info.SampleRate)
		assert.Equal(t, 1, call.Info.Channels)
		assert.Equal(t, 16, call.Info.BitDepth)
		_, err := os.Stat(call.Path)
		assert.True(t, errors.Is(err, os.ErrNotExist), "chunk file %s should be removed", call.Path)
	}

	entries, err := os.ReadDir(c.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscribeLongChunkCount(t *testing.T) {
	tests := []struct {
		name       string
		seconds    float64
		wantFrames []int64
	}{
		{"exact_multiple", 20, []int64{80000, 80000}},
		{"remainder", 25, []int64{80000, 80000, 40000}},
		{"shorter_than_segment", 4, []int64{32000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := audiotest.WriteTone(t, t.TempDir(), "a.wav", tt.seconds, 8000)
			b := newFakeBackend(KindRemote, func(n int, _ string) (string, error) {
				return string(rune('a' + n - 1)), nil
			})

			text, err := newTestChunker(t, b).TranscribeLong(context.Background(), path)
			require.NoError(t, err)

			var frames []int64
			for _, call := range b.Calls() {
				frames = append(frames, call.Info.Frames)
			}
			assert.Equal(t, tt.wantFrames, frames)

			want := "a"
			for i := 1; i < len(tt.wantFrames); i++ {
				want += "\n" + string(rune('a'+i))
			}
			assert.Equal(t, want, text)
		})
	}
}

func TestTranscribeLongTrimsAndSkipsEmpty(t *testing.T) {
	path := audiotest.WriteTone(t, t.TempDir(), "a.wav", 30, 8000)
	b := newFakeBackend(KindRemote, sequence([]string{"  one \n", "   ", "\tthree"}, nil))

	text, err := newTestChunker(t, b).TranscribeLong(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "one\nthree", text)
}

func TestTranscribeLongNoSpeech(t *testing.T) {
	path := audiotest.WriteTone(t, t.TempDir(), "a.wav", 25, 8000)
	b := newFakeBackend(KindRemote, func(int, string) (string, error) {
		return "", ErrBackendCallFailed
	})

	_, err := newTestChunker(t, b).TranscribeLong(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoSpeech)
	assert.Len(t, b.Calls(), 3)
}

func TestTranscribeLongInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"zero_sample_rate", audiotest.PCM16WAV(make([]int16, 8000), 0, 1)},
		{"zero_frames", audiotest.PCM16WAV(nil, 8000, 1)},
		{"zero_channels", audiotest.PCM16WAV(nil, 8000, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := audiotest.WriteFile(t, t.TempDir(), "bad.wav", tt.data)
			b := newFakeBackend(KindRemote, sequence([]string{"never"}, nil))

			_, err := newTestChunker(t, b).TranscribeLong(context.Background(), path)
			assert.ErrorIs(t, err, ErrInvalidAudioParameters)
			assert.Empty(t, b.Calls())
		})
	}
}

func TestTranscribeLongNonWAVSingleCall(t *testing.T) {
	path := audiotest.WriteFile(t, t.TempDir(), "voice.mp3", []byte("ID3\x03\x00\x00\x00\x00\x00\x00"))
	b := newFakeBackend(KindRemote, sequence([]string{" whole file "}, nil))

	text, err := newTestChunker(t, b).TranscribeLong(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "whole file", text)

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, path, calls[0].Path)
}

func TestTranscribeLongContextCancel(t *testing.T) {
	path := audiotest.WriteTone(t, t.TempDir(), "a.wav", 30, 8000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newFakeBackend(KindRemote, func(n int, _ string) (string, error) {
		cancel()
		return "", context.Canceled
	})

	_, err := newTestChunker(t, b).TranscribeLong(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, b.Calls(), 1)
}

func TestChunkerDefaultSegment(t *testing.T) {
	c := NewChunker(nil, 0, zerolog.Nop())
	assert.Equal(t, "10s", c.SegmentDuration().String())
}
