// SPDX-License-Identifier: Apache-2.0

// Package chain executes a fixed, linear sequence of prompt invocations where
// each step's input is assembled from the task input, static context and the
// results of earlier steps.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/d-gangz/glowing-braintrust/internal/chain"

var (
	ErrInvalidChain = errors.New("invalid chain")
	ErrStepFailed   = errors.New("chain step failed")
)

// LocalFunc computes a step in-process instead of calling the remote service.
type LocalFunc func(ctx context.Context, in invoke.Input) (invoke.Result, error)

// Step is either remote (Slug set) or local (Local set).
type Step struct {
	Name   string
	Slug   string
	Shape  invoke.Shape
	Params []Param
	Local  LocalFunc
}

func (s Step) local() bool { return s.Local != nil }

type Config struct {
	Name    string
	Project string
	Steps   []Step
	// Static is the static context the Static source reads from.
	Static  map[string]string
	Invoker invoke.Invoker
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

type Chain struct {
	name    string
	project string
	steps   []Step
	static  map[string]string
	invoker invoke.Invoker
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New validates the declared steps and returns a reusable chain.
func New(cfg Config) (*Chain, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	steps := make([]Step, len(cfg.Steps))
	copy(steps, cfg.Steps)

	return &Chain{
		name:    cfg.Name,
		project: cfg.Project,
		steps:   steps,
		static:  maps.Clone(cfg.Static),
		invoker: cfg.Invoker,
		logger:  logger,
		tracer:  tracer,
	}, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidChain)
	}
	if len(cfg.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidChain, cfg.Name)
	}

	shapes := make(map[string]invoke.Shape, len(cfg.Steps))
	remote := false
	for i, step := range cfg.Steps {
		if strings.TrimSpace(step.Name) == "" {
			return fmt.Errorf("%w: %s step %d has no name", ErrInvalidChain, cfg.Name, i)
		}
		if _, dup := shapes[step.Name]; dup {
			return fmt.Errorf("%w: %s declares step %s twice", ErrInvalidChain, cfg.Name, step.Name)
		}
		switch {
		case step.local() && step.Slug != "":
			return fmt.Errorf("%w: step %s is both local and remote", ErrInvalidChain, step.Name)
		case !step.local() && strings.TrimSpace(step.Slug) == "":
			return fmt.Errorf("%w: step %s has no slug", ErrInvalidChain, step.Name)
		}
		if !step.local() {
			remote = true
		}
		if step.Shape == invoke.ShapeStream {
			if step.local() {
				return fmt.Errorf("%w: local step %s cannot stream", ErrInvalidChain, step.Name)
			}
			if i != len(cfg.Steps)-1 {
				return fmt.Errorf("%w: only the final step may stream, %s is step %d", ErrInvalidChain, step.Name, i)
			}
		}

		seen := make(map[string]struct{}, len(step.Params))
		for _, p := range step.Params {
			if _, dup := seen[p.Name]; dup {
				return fmt.Errorf("%w: step %s binds %s twice", ErrInvalidChain, step.Name, p.Name)
			}
			seen[p.Name] = struct{}{}

			if p.From.kind != fromOutput && p.From.kind != fromField {
				continue
			}
			shape, ok := shapes[p.From.step]
			if !ok {
				return fmt.Errorf("%w: step %s reads %s before it runs", ErrInvalidChain, step.Name, p.From)
			}
			if p.From.kind == fromOutput && shape != invoke.ShapeText {
				return fmt.Errorf("%w: step %s reads the whole output of %s step %s", ErrInvalidChain, step.Name, shape, p.From.step)
			}
			if p.From.kind == fromField && shape != invoke.ShapeRecord {
				return fmt.Errorf("%w: step %s reads a field of %s step %s", ErrInvalidChain, step.Name, shape, p.From.step)
			}
		}
		shapes[step.Name] = step.Shape
	}

	if remote && cfg.Invoker == nil {
		return fmt.Errorf("%w: %s has remote steps but no invoker", ErrInvalidChain, cfg.Name)
	}
	if remote && strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("%w: %s has remote steps but no project", ErrInvalidChain, cfg.Name)
	}
	return nil
}

func (c *Chain) Name() string    { return c.name }
func (c *Chain) Project() string { return c.project }

// Streams reports whether Run returns an *invoke.Stream.
func (c *Chain) Streams() bool {
	return c.steps[len(c.steps)-1].Shape == invoke.ShapeStream
}

// Run executes every step in order and returns the final step's result. A
// failing step aborts the chain; no partial result is returned.
func (c *Chain) Run(ctx context.Context, in invoke.Input) (invoke.Result, error) {
	ctx, span := c.tracer.Start(ctx, "chain.run", trace.WithAttributes(
		attribute.String("chain.name", c.name),
		attribute.String("chain.project", c.project),
	))
	defer span.End()

	started := time.Now()
	scope := newScope(in, c.static)

	for i, step := range c.steps {
		res, err := c.runStep(ctx, scope, step)
		if err != nil {
			err = fmt.Errorf("%w: %s/%s: %w", ErrStepFailed, c.name, step.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.IncChainRun(c.name, metrics.StatusError)
			c.logger.Error("chain step failed",
				"chain", c.name,
				"step", step.Name,
				"step_index", i,
				"error", err,
			)
			return nil, err
		}
		scope.results[step.Name] = res
	}

	final, _ := scope.Result(c.steps[len(c.steps)-1].Name)
	if s, ok := final.(*invoke.Stream); ok && s.Chunks != nil {
		c.logger.Debug("chain streaming",
			"chain", c.name,
			"steps", len(c.steps),
		)
		return &invoke.Stream{Chunks: &runStream{
			ChunkStream: s.Chunks,
			chain:       c,
			started:     started,
		}}, nil
	}

	c.completed(started, nil)
	return final, nil
}

// completed records the outcome of a run. Streaming runs report once their
// stream ends.
func (c *Chain) completed(started time.Time, err error) {
	if err != nil {
		metrics.IncChainRun(c.name, metrics.StatusError)
		c.logger.Error("chain stream failed",
			"chain", c.name,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return
	}
	metrics.IncChainRun(c.name, metrics.StatusOK)
	c.logger.Info("chain completed",
		"chain", c.name,
		"steps", len(c.steps),
		"streaming", c.Streams(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// runStream reports the chain outcome when the final stream is exhausted,
// fails or is closed early. Closing early counts as success.
type runStream struct {
	invoke.ChunkStream
	chain    *Chain
	started  time.Time
	doneOnce sync.Once
}

func (s *runStream) Next() bool {
	if s.ChunkStream.Next() {
		return true
	}
	err := s.ChunkStream.Err()
	s.doneOnce.Do(func() { s.chain.completed(s.started, err) })
	return false
}

func (s *runStream) Close() error {
	err := s.ChunkStream.Close()
	s.doneOnce.Do(func() { s.chain.completed(s.started, nil) })
	return err
}

func (c *Chain) runStep(ctx context.Context, scope *Scope, step Step) (invoke.Result, error) {
	ctx, span := c.tracer.Start(ctx, "chain.step", trace.WithAttributes(
		attribute.String("chain.step", step.Name),
		attribute.String("prompt.slug", step.Slug),
		attribute.Bool("chain.step.local", step.local()),
	))
	defer span.End()

	input := scope.inputFor(step)
	c.logger.Debug("chain step starting",
		"chain", c.name,
		"step", step.Name,
		"slug", step.Slug,
		"params", len(input),
	)

	var (
		res invoke.Result
		err error
	)
	if step.local() {
		res, err = step.Local(ctx, input)
	} else {
		res, err = c.invoker.Invoke(ctx, invoke.Request{
			Project: c.project,
			Slug:    step.Slug,
			Input:   input,
			Shape:   step.Shape,
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res == nil || res.Shape() != step.Shape {
		if s, ok := res.(*invoke.Stream); ok && s.Chunks != nil {
			_ = s.Chunks.Close()
		}
		return nil, fmt.Errorf("%w: step %s declared %s", invoke.ErrUnexpectedShape, step.Name, step.Shape)
	}
	return res, nil
}

// StepInfo describes one declared step.
type StepInfo struct {
	Name  string `json:"name"`
	Slug  string `json:"slug,omitempty"`
	Shape string `json:"shape"`
	Local bool   `json:"local"`
}

// Info describes a chain for listings.
type Info struct {
	Name    string     `json:"name"`
	Project string     `json:"project"`
	Inputs  []string   `json:"inputs"`
	Streams bool       `json:"streams"`
	Steps   []StepInfo `json:"steps"`
}

// Describe lists the chain's steps and the task input fields it reads.
func (c *Chain) Describe() Info {
	info := Info{
		Name:    c.name,
		Project: c.project,
		Streams: c.Streams(),
		Inputs:  []string{},
	}
	seen := map[string]struct{}{}
	for _, step := range c.steps {
		info.Steps = append(info.Steps, StepInfo{
			Name:  step.Name,
			Slug:  step.Slug,
			Shape: step.Shape.String(),
			Local: step.local(),
		})
		for _, p := range step.Params {
			if p.From.kind != fromTask {
				continue
			}
			if _, ok := seen[p.From.field]; ok {
				continue
			}
			seen[p.From.field] = struct{}{}
			info.Inputs = append(info.Inputs, p.From.field)
		}
	}
	return info
}
