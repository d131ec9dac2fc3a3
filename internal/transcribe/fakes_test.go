package transcribe

import (
	"context"
	"os"
	"sync"

	"github.com/snarg/voxarchive/internal/audio"
	"github.com/snarg/voxarchive/internal/database"
)

// backendCall records one request to fakeBackend. Info is read while the
// file still exists.
type backendCall struct {
	Path  string
	IsWAV bool
	Info  audio.WAVInfo
}

type fakeBackend struct {
	kind    string
	respond func(n int, path string) (string, error)

	mu    sync.Mutex
	calls []backendCall
}

func newFakeBackend(kind string, respond func(n int, path string) (string, error)) *fakeBackend {
	return &fakeBackend{kind: kind, respond: respond}
}

func (f *fakeBackend) Transcribe(_ context.Context, path string) (*Response, error) {
	call := backendCall{Path: path, IsWAV: audio.IsWAV(path)}
	if call.IsWAV {
		call.Info, _ = audio.ReadWAVInfo(path)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	n := len(f.calls)
	f.mu.Unlock()

	text, err := f.respond(n, path)
	if err != nil {
		return nil, err
	}
	return &Response{Text: text}, nil
}

func (f *fakeBackend) Kind() string  { return f.kind }
func (f *fakeBackend) Model() string { return "fake-1" }

func (f *fakeBackend) Calls() []backendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backendCall(nil), f.calls...)
}

// sequence answers call n with texts[n-1]; a nil error slot means success.
func sequence(texts []string, errs []error) func(int, string) (string, error) {
	return func(n int, _ string) (string, error) {
		i := n - 1
		if i < len(errs) && errs[i] != nil {
			return "", errs[i]
		}
		if i < len(texts) {
			return texts[i], nil
		}
		return "", nil
	}
}

type memCache struct {
	mu      sync.Mutex
	records map[string]string

	getErr    error
	putErr    error
	deleteErr error
	gets      int
}

func newMemCache() *memCache {
	return &memCache{records: map[string]string{}}
}

func (c *memCache) Get(_ context.Context, id string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return "", false, c.getErr
	}
	text, ok := c.records[id]
	return text, ok, nil
}

func (c *memCache) Put(_ context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return &database.StoreError{Op: "upsert transcription", Err: c.putErr}
	}
	c.records[id] = text
	return nil
}

func (c *memCache) Delete(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return false, &database.StoreError{Op: "delete transcription", Err: c.deleteErr}
	}
	_, ok := c.records[id]
	delete(c.records, id)
	return ok, nil
}

func (c *memCache) record(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.records[id]
	return text, ok
}

type fakeResolver struct {
	files map[string]audio.Resolved
	err   error
	calls int
	hints []audio.Hint
}

func (r *fakeResolver) Resolve(_ context.Context, id string, hint audio.Hint) (audio.Resolved, error) {
	r.calls++
	r.hints = append(r.hints, hint)
	if hint.HostPath && hint.Path != "" {
		if _, err := os.Stat(hint.Path); err == nil {
			return audio.Resolved{Path: hint.Path, Origin: audio.OriginSupplied}, nil
		}
	}
	if res, ok := r.files[id]; ok {
		return res, nil
	}
	if r.err != nil {
		return audio.Resolved{}, r.err
	}
	return audio.Resolved{}, audio.ErrAudioUnavailable
}
