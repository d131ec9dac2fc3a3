package transcribe

import (
	"errors"

	"github.com/snarg/voxarchive/internal/audio"
)

var (
	ErrAudioUnavailable       = audio.ErrAudioUnavailable
	ErrInvalidAudioParameters = audio.ErrInvalidAudioParameters

	// ErrBackendUnavailable means a backend could not be constructed.
	ErrBackendUnavailable = errors.New("transcription backend unavailable")
	// ErrBackendCallFailed means a constructed backend failed on a request.
	ErrBackendCallFailed = errors.New("transcription backend call failed")
	// ErrNoSpeech means transcription ran but produced no text.
	ErrNoSpeech = errors.New("no speech recognized")
)
