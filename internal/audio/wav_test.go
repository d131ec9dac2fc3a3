package audio

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/snarg/voxarchive/internal/audio/audiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWAV(t *testing.T) {
	dir := t.TempDir()
	path := audiotest.WriteTone(t, dir, "tone.wav", 2.5, 8000)

	r, err := OpenWAV(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 8000, r.Info.SampleRate)
	assert.Equal(t, 1, r.Info.Channels)
	assert.Equal(t, 16, r.Info.BitDepth)
	assert.Equal(t, int64(20000), r.Info.Frames)
	assert.Equal(t, 2, r.Info.BytesPerFrame())
	assert.Equal(t, 2500*time.Millisecond, r.Info.Duration())
}

func TestReadFramesSegments(t *testing.T) {
	dir := t.TempDir()
	path := audiotest.WriteTone(t, dir, "tone.wav", 2.5, 8000)

	r, err := OpenWAV(path)
	require.NoError(t, err)
	defer r.Close()

	var sizes []int
	for {
		buf, err := r.ReadFrames(8000)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(buf.Data))
		assert.Equal(t, 8000, buf.Format.SampleRate)
	}
	assert.Equal(t, []int{8000, 8000, 4000}, sizes)
}

func TestOpenWAVInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"zero_sample_rate", audiotest.PCM16WAV(make([]int16, 100), 0, 1)},
		{"zero_frames", audiotest.PCM16WAV(nil, 16000, 1)},
		{"zero_channels", audiotest.PCM16WAV(nil, 16000, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := audiotest.WriteFile(t, t.TempDir(), "bad.wav", tt.data)
			_, err := OpenWAV(path)
			assert.ErrorIs(t, err, ErrInvalidAudioParameters)
		})
	}
}

func TestOpenWAVNotRIFF(t *testing.T) {
	path := audiotest.WriteFile(t, t.TempDir(), "fake.wav", []byte("ID3 definitely not a wave file"))
	_, err := OpenWAV(path)
	assert.ErrorIs(t, err, ErrInvalidWAV)
	assert.NotErrorIs(t, err, ErrInvalidAudioParameters)
}

func TestWriteWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := audiotest.WriteTone(t, dir, "src.wav", 1, 16000)

	r, err := OpenWAV(src)
	require.NoError(t, err)
	buf, err := r.ReadFrames(4000)
	require.NoError(t, err)
	r.Close()

	out := filepath.Join(dir, "segment.wav")
	require.NoError(t, WriteWAV(out, buf, 16))

	info, err := ReadWAVInfo(out)
	require.NoError(t, err)
	assert.Equal(t, WAVInfo{SampleRate: 16000, Channels: 1, BitDepth: 16, Frames: 4000}, info)

	r2, err := OpenWAV(out)
	require.NoError(t, err)
	defer r2.Close()
	again, err := r2.ReadFrames(4000)
	require.NoError(t, err)
	assert.Equal(t, buf.Data, again.Data)
}

func TestWritePCM16WAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decoded.wav")
	require.NoError(t, WritePCM16WAV(path, audiotest.Tone(0.5, 24000), 24000))

	info, err := ReadWAVInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 24000, info.SampleRate)
	assert.Equal(t, int64(12000), info.Frames)
}

func TestReadMonoFloat32(t *testing.T) {
	// Stereo frames: left +16384, right -16384 average to zero.
	samples := []int16{16384, -16384, 16384, 16384}
	path := audiotest.WriteFile(t, t.TempDir(), "stereo.wav", audiotest.PCM16WAV(samples, 8000, 2))

	mono, rate, err := ReadMonoFloat32(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	require.Len(t, mono, 2)
	assert.InDelta(t, 0.0, mono[0], 1e-6)
	assert.InDelta(t, 0.5, mono[1], 1e-6)
}

func TestIsWAV(t *testing.T) {
	dir := t.TempDir()
	wavNoExt := audiotest.WriteFile(t, dir, "clip", audiotest.PCM16WAV(make([]int16, 10), 8000, 1))
	mp3 := audiotest.WriteFile(t, dir, "clip.mp3", []byte("ID3\x03\x00\x00\x00"))

	assert.True(t, IsWAV(filepath.Join(dir, "missing.WAV")))
	assert.True(t, IsWAV(wavNoExt))
	assert.False(t, IsWAV(mp3))
	assert.False(t, IsWAV(filepath.Join(dir, "missing.ogg")))
}

func TestResample(t *testing.T) {
	src := []float32{0, 1, 0, -1}

	same := Resample(src, 16000, 16000)
	assert.Equal(t, src, same)

	up := Resample(src, 8000, 16000)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)
	assert.InDelta(t, -1.0, up[7], 1e-6)

	down := Resample(src, 16000, 8000)
	assert.Equal(t, []float32{0, 0}, down)

	assert.Nil(t, Resample(nil, 8000, 16000))
}
