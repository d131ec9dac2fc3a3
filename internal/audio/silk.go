//go:build cgo

package audio

import (
	"encoding/binary"
	"fmt"

	silk "github.com/sjzar/go-silk"
)

// silkSampleRate is the rate go-silk decodes voice clips at.
const silkSampleRate = 24000

// SilkDecoder decodes SILK v3 voice blobs into 16-bit PCM.
type SilkDecoder struct{}

// NewSilkDecoder returns a decoder backed by the native SILK library.
func NewSilkDecoder() (*SilkDecoder, error) {
	return &SilkDecoder{}, nil
}

func (SilkDecoder) Decode(data []byte) ([]int16, int, error) {
	sd := silk.SilkInit()
	defer sd.Close()

	pcm := sd.Decode(data)
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("silk decode: no samples from %d bytes", len(data))
	}
	if len(pcm)%2 != 0 {
		return nil, 0, fmt.Errorf("silk decode: odd pcm length %d", len(pcm))
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples, silkSampleRate, nil
}
