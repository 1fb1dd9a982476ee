// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"gopkg.in/yaml.v3"
)

// Case is one dataset record handed to the task.
type Case struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Input    invoke.Input   `json:"input" yaml:"input"`
	Expected any            `json:"expected,omitempty" yaml:"expected,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type Dataset interface {
	Load(ctx context.Context) ([]Case, error)
}

// Inline is a dataset given as a literal.
type Inline []Case

func (d Inline) Load(context.Context) ([]Case, error) {
	out := make([]Case, len(d))
	copy(out, d)
	return out, nil
}

// FetchFunc retrieves a dataset from wherever it lives.
type FetchFunc func(ctx context.Context) ([]Case, error)

// Lazy fetches on first Load and serves the cached cases afterwards. A failed
// fetch is not cached, so the next Load tries again.
type Lazy struct {
	fetch FetchFunc

	mu     sync.Mutex
	loaded bool
	cases  []Case
}

func NewLazy(fetch FetchFunc) *Lazy {
	return &Lazy{fetch: fetch}
}

func (l *Lazy) Load(ctx context.Context) ([]Case, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		cases, err := l.fetch(ctx)
		if err != nil {
			return nil, err
		}
		l.cases = cases
		l.loaded = true
	}

	out := make([]Case, len(l.cases))
	copy(out, l.cases)
	return out, nil
}

// File is a YAML dataset on disk, read on first Load:
//
//	- input: {genre: romance, context: a small town}
//	  expected: a love story
func File(path string) *Lazy {
	return NewLazy(func(context.Context) ([]Case, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read dataset %s: %w", path, err)
		}
		var cases []Case
		if err := yaml.Unmarshal(raw, &cases); err != nil {
			return nil, fmt.Errorf("parse dataset %s: %w", path, err)
		}
		return cases, nil
	})
}
