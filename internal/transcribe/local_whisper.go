//go:build whisper

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type whisperEngine struct {
	model whisper.Model
}

func loadEngine(path string) (speechEngine, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperEngine{model: model}, nil
}

func (e *whisperEngine) Transcribe(ctx context.Context, samples []float32, language string, threads int) (string, error) {
	if len(samples) == 0 {
		return "", errors.New("empty audio samples")
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return "", fmt.Errorf("set language %q: %w", language, err)
		}
	}
	wctx.SetThreads(uint(threads))

	abort := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, abort, nil, nil); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(seg.Text))
	}
	return b.String(), nil
}

func (e *whisperEngine) Close() error {
	return e.model.Close()
}
