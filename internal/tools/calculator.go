// SPDX-License-Identifier: Apache-2.0

// Package tools holds the callable tools registered with the prompt service:
// a four-function calculator and a current-weather lookup.
package tools

import (
	"errors"
	"fmt"

	"github.com/d-gangz/glowing-braintrust/internal/metrics"
)

var (
	ErrDivisionByZero   = errors.New("division by zero")
	ErrUnknownOperation = errors.New("unknown operation")
)

type Op string

const (
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
	OpMultiply Op = "multiply"
	OpDivide   Op = "divide"
)

var ops = []Op{OpAdd, OpSubtract, OpMultiply, OpDivide}

type CalculatorInput struct {
	Op Op      `json:"op"`
	A  float64 `json:"a"`
	B  float64 `json:"b"`
}

func Calculate(op Op, a, b float64) (float64, error) {
	result, err := calculate(op, a, b)
	if err != nil {
		metrics.IncToolCall(SlugCalculator, metrics.StatusError)
		return 0, err
	}
	metrics.IncToolCall(SlugCalculator, metrics.StatusOK)
	return result, nil
}

func calculate(op Op, a, b float64) (float64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSubtract:
		return a - b, nil
	case OpMultiply:
		return a * b, nil
	case OpDivide:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func (in CalculatorInput) Run() (float64, error) {
	return Calculate(in.Op, in.A, in.B)
}
