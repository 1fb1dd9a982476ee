// SPDX-License-Identifier: Apache-2.0

package chain

import "fmt"

type sourceKind int

const (
	fromTask sourceKind = iota
	fromStatic
	fromOutput
	fromField
	fromValue
)

// Source says where a step parameter's value comes from.
type Source struct {
	kind  sourceKind
	step  string
	field string
	value string
}

// Task reads a field of the task input.
func Task(field string) Source { return Source{kind: fromTask, field: field} }

// Static reads a field of the static context.
func Static(field string) Source { return Source{kind: fromStatic, field: field} }

// Output reads the whole text result of an earlier step.
func Output(step string) Source { return Source{kind: fromOutput, step: step} }

// Field reads one field of an earlier step's record result.
func Field(step, field string) Source { return Source{kind: fromField, step: step, field: field} }

// Value is a constant.
func Value(v string) Source { return Source{kind: fromValue, value: v} }

func (s Source) String() string {
	switch s.kind {
	case fromTask:
		return "task." + s.field
	case fromStatic:
		return "static." + s.field
	case fromOutput:
		return s.step
	case fromField:
		return s.step + "." + s.field
	case fromValue:
		return fmt.Sprintf("%q", s.value)
	default:
		return "?"
	}
}

// Param binds a prompt parameter name to a source.
type Param struct {
	Name string
	From Source
}

func Bind(name string, from Source) Param {
	return Param{Name: name, From: from}
}

// FromTask binds each name to the task input field of the same name.
func FromTask(names ...string) []Param {
	out := make([]Param, 0, len(names))
	for _, n := range names {
		out = append(out, Bind(n, Task(n)))
	}
	return out
}

// FromStatic binds each name to the static context field of the same name.
func FromStatic(names ...string) []Param {
	out := make([]Param, 0, len(names))
	for _, n := range names {
		out = append(out, Bind(n, Static(n)))
	}
	return out
}

// Params concatenates parameter groups.
func Params(groups ...[]Param) []Param {
	var out []Param
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
