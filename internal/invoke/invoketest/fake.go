// SPDX-License-Identifier: Apache-2.0

// Package invoketest provides in-memory invokers and chunk streams for tests.
package invoketest

import (
	"context"
	"fmt"
	"sync"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

// SliceStream replays a fixed list of chunks, then reports Err.
type SliceStream struct {
	Chunks []invoke.Chunk
	Error  error

	mu     sync.Mutex
	pos    int
	cur    invoke.Chunk
	closed bool
	nexts  int
}

// TextStream builds a SliceStream of text_delta chunks.
func TextStream(fragments ...string) *SliceStream {
	chunks := make([]invoke.Chunk, 0, len(fragments))
	for _, f := range fragments {
		chunks = append(chunks, invoke.Chunk{Type: "text_delta", Data: f})
	}
	return &SliceStream{Chunks: chunks}
}

func (s *SliceStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.Chunks) {
		return false
	}
	s.cur = s.Chunks[s.pos]
	s.pos++
	s.nexts++
	return true
}

func (s *SliceStream) Chunk() invoke.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *SliceStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos < len(s.Chunks) {
		return nil
	}
	return s.Error
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consumed reports how many chunks were pulled from the stream.
func (s *SliceStream) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nexts
}

// Invoker answers requests by slug and records every request it receives.
type Invoker struct {
	Responses map[string]func(invoke.Request) (invoke.Result, error)

	mu       sync.Mutex
	requests []invoke.Request
}

func NewInvoker() *Invoker {
	return &Invoker{Responses: map[string]func(invoke.Request) (invoke.Result, error){}}
}

func (f *Invoker) On(slug string, fn func(invoke.Request) (invoke.Result, error)) *Invoker {
	f.Responses[slug] = fn
	return f
}

func (f *Invoker) Returns(slug string, res invoke.Result) *Invoker {
	return f.On(slug, func(invoke.Request) (invoke.Result, error) { return res, nil })
}

func (f *Invoker) Fails(slug string, err error) *Invoker {
	return f.On(slug, func(invoke.Request) (invoke.Result, error) { return nil, err })
}

func (f *Invoker) Invoke(ctx context.Context, req invoke.Request) (invoke.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	req.Input = req.Input.Clone()
	f.requests = append(f.requests, req)
	fn, ok := f.Responses[req.Slug]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no fake response for %s", invoke.ErrInvocation, req.Slug)
	}
	return fn(req)
}

func (f *Invoker) Requests() []invoke.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]invoke.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Request returns the last request for slug.
func (f *Invoker) Request(slug string) (invoke.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Slug == slug {
			return f.requests[i], true
		}
	}
	return invoke.Request{}, false
}
