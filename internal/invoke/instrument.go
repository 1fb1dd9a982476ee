// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/d-gangz/glowing-braintrust/internal/invoke"

type InstrumentOptions struct {
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Instrument wraps next with logging, Prometheus metrics and one span per
// invocation. Stream spans stay open until the stream is closed.
func Instrument(next Invoker, opts InstrumentOptions) Invoker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &instrumented{next: next, logger: logger, tracer: tracer}
}

type instrumented struct {
	next   Invoker
	logger *slog.Logger
	tracer trace.Tracer
}

func (i *instrumented) Invoke(ctx context.Context, req Request) (Result, error) {
	ctx, span := i.tracer.Start(ctx, "prompt.invoke", trace.WithAttributes(
		attribute.String("prompt.project", req.Project),
		attribute.String("prompt.slug", req.Slug),
		attribute.String("prompt.shape", req.Shape.String()),
	))

	started := time.Now()
	res, err := i.next.Invoke(ctx, req)
	elapsed := time.Since(started)
	metrics.ObserveInvocationDuration(req.Project, elapsed)

	if err != nil {
		metrics.IncInvocation(req.Project, req.Slug, metrics.StatusError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		i.logger.Error("prompt invocation failed",
			"project", req.Project,
			"slug", req.Slug,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	metrics.IncInvocation(req.Project, req.Slug, metrics.StatusOK)
	i.logger.Debug("prompt invoked",
		"project", req.Project,
		"slug", req.Slug,
		"shape", req.Shape.String(),
		"duration_ms", elapsed.Milliseconds(),
	)

	if s, ok := res.(*Stream); ok && s.Chunks != nil {
		return &Stream{Chunks: &observedStream{
			ChunkStream: s.Chunks,
			project:     req.Project,
			slug:        req.Slug,
			span:        span,
		}}, nil
	}

	span.End()
	return res, nil
}

type observedStream struct {
	ChunkStream
	project string
	slug    string
	span    trace.Span
	chunks  int
	endOnce sync.Once
}

func (s *observedStream) Next() bool {
	if !s.ChunkStream.Next() {
		if err := s.ChunkStream.Err(); err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
		return false
	}
	if s.ChunkStream.Chunk().Data != "" {
		s.chunks++
		metrics.IncStreamChunk(s.project, s.slug)
	}
	return true
}

func (s *observedStream) Close() error {
	err := s.ChunkStream.Close()
	s.endOnce.Do(func() {
		s.span.SetAttributes(attribute.Int("prompt.stream_chunks", s.chunks))
		s.span.End()
	})
	return err
}
