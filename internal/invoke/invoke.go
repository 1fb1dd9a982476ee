// SPDX-License-Identifier: Apache-2.0

// Package invoke defines the boundary between chains and the remote prompt
// service: requests, the closed set of result shapes, and the Invoker
// interface every backend implements.
package invoke

import (
	"context"
	"errors"
	"maps"
)

var (
	ErrInvocation      = errors.New("prompt invocation failed")
	ErrUnexpectedShape = errors.New("unexpected result shape")
)

// Input is the flat parameter record a prompt is invoked with.
type Input map[string]string

// Clone returns a copy so callers never share maps across steps.
func (in Input) Clone() Input {
	if in == nil {
		return Input{}
	}
	return maps.Clone(in)
}

// Get returns the value for key, or "" when absent.
func (in Input) Get(key string) string {
	return in[key]
}

type Shape int

const (
	ShapeText Shape = iota
	ShapeRecord
	ShapeStream
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeRecord:
		return "record"
	case ShapeStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Request identifies one remote prompt call. Shape is declared by the caller
// and decides how the response is decoded.
type Request struct {
	Project string
	Slug    string
	Input   Input
	Shape   Shape
}

func (r Request) Streaming() bool {
	return r.Shape == ShapeStream
}

type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
