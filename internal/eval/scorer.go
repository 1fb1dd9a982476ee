// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"context"
	"fmt"
	"strings"
)

// Scorer grades one task output. Scores are expected in [0, 1].
type Scorer interface {
	Name() string
	Score(ctx context.Context, c Case, output string) (float64, error)
}

type scorerFunc struct {
	name string
	fn   func(ctx context.Context, c Case, output string) (float64, error)
}

func (s scorerFunc) Name() string { return s.name }

func (s scorerFunc) Score(ctx context.Context, c Case, output string) (float64, error) {
	return s.fn(ctx, c, output)
}

func NewScorer(name string, fn func(ctx context.Context, c Case, output string) (float64, error)) Scorer {
	return scorerFunc{name: name, fn: fn}
}

// NonEmpty scores 1 when the task produced any text.
func NonEmpty() Scorer {
	return NewScorer("non_empty", func(_ context.Context, _ Case, output string) (float64, error) {
		if strings.TrimSpace(output) == "" {
			return 0, nil
		}
		return 1, nil
	})
}

// ExactMatch scores 1 when the output equals the case's expected value,
// ignoring surrounding whitespace. Cases without an expected value fail.
func ExactMatch() Scorer {
	return NewScorer("exact_match", func(_ context.Context, c Case, output string) (float64, error) {
		if c.Expected == nil {
			return 0, fmt.Errorf("case %q has no expected value", c.ID)
		}
		if strings.TrimSpace(fmt.Sprint(c.Expected)) == strings.TrimSpace(output) {
			return 1, nil
		}
		return 0, nil
	})
}

// ScorersByName resolves the built-in scorers.
func ScorersByName(names ...string) ([]Scorer, error) {
	out := make([]Scorer, 0, len(names))
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "":
			continue
		case "non_empty":
			out = append(out, NonEmpty())
		case "exact_match":
			out = append(out, ExactMatch())
		default:
			return nil, fmt.Errorf("unknown scorer %q", name)
		}
	}
	return out, nil
}
