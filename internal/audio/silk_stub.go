//go:build !cgo

package audio

// SilkDecoder is unavailable in builds without cgo.
type SilkDecoder struct{}

func NewSilkDecoder() (*SilkDecoder, error) {
	return nil, ErrDecoderUnavailable
}

func (SilkDecoder) Decode([]byte) ([]int16, int, error) {
	return nil, 0, ErrDecoderUnavailable
}
