// SPDX-License-Identifier: Apache-2.0

// Package stream turns a streamed prompt response into a forward-only sequence
// of text fragments while accumulating the full text.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

var ErrConsumed = errors.New("stream already consumed")

// Aggregator is single-use. It is not safe for concurrent consumption.
type Aggregator struct {
	src invoke.ChunkStream

	mu        sync.Mutex
	started   bool
	exhausted bool
	err       error
	full      strings.Builder
	closeOnce sync.Once
}

func New(src invoke.ChunkStream) *Aggregator {
	return &Aggregator{src: src}
}

// FromResult accepts any Result. Text and Record results become a finished
// aggregate holding their text form so callers can treat every output alike.
func FromResult(res invoke.Result) *Aggregator {
	switch r := res.(type) {
	case *invoke.Stream:
		return New(r.Chunks)
	case invoke.Text:
		return finished(string(r))
	case invoke.Record:
		return finished(recordText(r))
	default:
		return finished("")
	}
}

func finished(text string) *Aggregator {
	a := &Aggregator{exhausted: true}
	a.full.WriteString(text)
	return a
}

// Fragments yields each non-empty chunk in arrival order. A stream failure is
// yielded once as ("", err). The source is closed when the sequence ends,
// including when the consumer stops early.
func (a *Aggregator) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		a.mu.Lock()
		if a.started {
			a.mu.Unlock()
			yield("", ErrConsumed)
			return
		}
		a.started = true
		src := a.src
		a.mu.Unlock()

		if src == nil {
			if text := a.Partial(); text != "" {
				yield(text, nil)
			}
			return
		}

		defer a.Close()

		for src.Next() {
			data := src.Chunk().Data
			if data == "" {
				continue
			}
			a.mu.Lock()
			a.full.WriteString(data)
			a.mu.Unlock()
			if !yield(data, nil) {
				return
			}
		}

		if err := src.Err(); err != nil {
			a.mu.Lock()
			a.err = err
			a.mu.Unlock()
			yield("", err)
			return
		}

		a.mu.Lock()
		a.exhausted = true
		a.mu.Unlock()
	}
}

// Text returns the accumulated response. ok is false until the fragments have
// been fully consumed without error.
func (a *Aggregator) Text() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.full.String(), a.exhausted && a.err == nil
}

// Partial returns whatever has been accumulated so far.
func (a *Aggregator) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.full.String()
}

// Drain consumes the remaining fragments and returns the full text.
func (a *Aggregator) Drain(ctx context.Context) (string, error) {
	for _, err := range a.Fragments() {
		if err != nil {
			return a.Partial(), err
		}
		if ctx.Err() != nil {
			return a.Partial(), ctx.Err()
		}
	}
	text, _ := a.Text()
	return text, nil
}

// Close releases the underlying stream without consuming it.
func (a *Aggregator) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.src != nil {
			err = a.src.Close()
		}
	})
	return err
}

func recordText(r invoke.Record) string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}
