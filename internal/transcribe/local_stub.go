//go:build !whisper

package transcribe

import "errors"

func loadEngine(string) (speechEngine, error) {
	return nil, errors.New("binary built without whisper support (rebuild with -tags whisper)")
}
