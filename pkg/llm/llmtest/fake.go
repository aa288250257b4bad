// Package llmtest provides a scripted llm.Backend for tests.
package llmtest

import (
	"context"
	"iter"
	"sync"

	"chat-gateway-be/pkg/llm"
)

// FakeBackend answers every call with the scripted text or error. When
// Chunks is set, Stream yields them in order and then StreamErr, if any.
type FakeBackend struct {
	BackendKind  llm.Kind
	DefaultModel string

	Text      string
	Err       error
	Chunks    []string
	StreamErr error

	mu       sync.Mutex
	requests []llm.Request
}

var _ llm.Backend = &FakeBackend{}

func (f *FakeBackend) Kind() llm.Kind {
	return f.BackendKind
}

func (f *FakeBackend) Model(requested string) string {
	if requested != "" {
		return requested
	}
	return f.DefaultModel
}

func (f *FakeBackend) Complete(ctx context.Context, req *llm.Request) llm.Outcome {
	f.record(req)
	return llm.Outcome{Text: f.Text, Err: f.Err, Model: f.Model(req.Model), Kind: f.BackendKind}
}

func (f *FakeBackend) Stream(ctx context.Context, req *llm.Request) iter.Seq2[string, error] {
	f.record(req)
	return func(yield func(string, error) bool) {
		for _, c := range f.Chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.StreamErr != nil {
			yield("", f.StreamErr)
		}
	}
}

// Requests returns copies of every request received so far.
func (f *FakeBackend) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeBackend) record(req *llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
}
