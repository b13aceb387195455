// Package llmtest provides a scripted Completer for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/ashureev/persona-companion/internal/llm"
)

// Fake returns Response/Err for every call and records the requests it saw.
// Respond, when set, takes precedence over Response/Err.
type Fake struct {
	Response string
	Err      error
	Respond  func(req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

// Complete implements llm.Completer.
func (f *Fake) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Respond != nil {
		return f.Respond(req)
	}
	return f.Response, f.Err
}

// Provider implements llm.Completer.
func (f *Fake) Provider() string { return "fake" }

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns how many requests were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
