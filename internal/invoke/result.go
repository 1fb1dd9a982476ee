// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is one of Text, Record or *Stream.
type Result interface {
	Shape() Shape
	isResult()
}

type Text string

func (Text) Shape() Shape { return ShapeText }
func (Text) isResult()    {}

func (t Text) String() string { return string(t) }

// Record is a structured prompt output such as {"reason": ..., "outline": ...}.
type Record map[string]any

func (Record) Shape() Shape { return ShapeRecord }
func (Record) isResult()    {}

// Field returns the named value as text. Missing or null fields are "";
// non-string values are rendered as compact JSON.
func (r Record) Field(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Fields renders every value the way Field does.
func (r Record) Fields() map[string]string {
	out := make(map[string]string, len(r))
	for name := range r {
		out[name] = r.Field(name)
	}
	return out
}

// Chunk is one piece of a streamed response. Chunks with empty Data carry no
// text and are skipped by consumers.
type Chunk struct {
	Type string
	Data string
}

// ChunkStream is a lazily produced, single-pass sequence of chunks.
type ChunkStream interface {
	Next() bool
	Chunk() Chunk
	Err() error
	Close() error
}

// Stream wraps the chunk source of a streaming step.
type Stream struct {
	Chunks ChunkStream
}

func (*Stream) Shape() Shape { return ShapeStream }
func (*Stream) isResult()    {}

// DecodeText turns a non-streaming JSON body into Text. A JSON string is
// unquoted; any other value is kept as its compact JSON text.
func DecodeText(body []byte) (Text, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return Text(s), nil
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return Text(trimmed), nil
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Text(compact), nil
}

// DecodeRecord turns a non-streaming JSON body into a Record. A JSON string
// holding an object (optionally fenced as ```json) is unwrapped.
func DecodeRecord(body []byte) (Record, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return decodeRecordText(string(body))
	}

	switch typed := v.(type) {
	case map[string]any:
		return Record(typed), nil
	case string:
		return decodeRecordText(typed)
	default:
		return nil, fmt.Errorf("%w: want record, got %T", ErrUnexpectedShape, v)
	}
}

func decodeRecordText(raw string) (Record, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var rec map[string]any
	if err := json.Unmarshal([]byte(s), &rec); err != nil || rec == nil {
		return nil, fmt.Errorf("%w: want record, got text", ErrUnexpectedShape)
	}
	return Record(rec), nil
}
