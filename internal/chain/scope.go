// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"encoding/json"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

// Scope holds what one chain execution has seen so far: the task input, the
// static context and every completed step's result. It lives for one Run.
type Scope struct {
	task    invoke.Input
	static  map[string]string
	results map[string]invoke.Result
}

func newScope(task invoke.Input, static map[string]string) *Scope {
	return &Scope{
		task:    task.Clone(),
		static:  static,
		results: make(map[string]invoke.Result),
	}
}

func (s *Scope) Result(step string) (invoke.Result, bool) {
	r, ok := s.results[step]
	return r, ok
}

// Resolve returns the value of src, or "" when it is missing.
func (s *Scope) Resolve(src Source) string {
	switch src.kind {
	case fromTask:
		return s.task[src.field]
	case fromStatic:
		return s.static[src.field]
	case fromValue:
		return src.value
	case fromOutput:
		return textOf(s.results[src.step])
	case fromField:
		if rec, ok := s.results[src.step].(invoke.Record); ok {
			return rec.Field(src.field)
		}
		return ""
	default:
		return ""
	}
}

func (s *Scope) inputFor(step Step) invoke.Input {
	in := make(invoke.Input, len(step.Params))
	for _, p := range step.Params {
		in[p.Name] = s.Resolve(p.From)
	}
	return in
}

func textOf(r invoke.Result) string {
	switch v := r.(type) {
	case invoke.Text:
		return string(v)
	case invoke.Record:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}
