// SPDX-License-Identifier: Apache-2.0

package braintrust

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/openai/openai-go/packages/ssestream"
)

// Event types of a streamed function invocation.
const (
	EventTextDelta = "text_delta"
	EventJSONDelta = "json_delta"
	EventError     = "error"
	EventDone      = "done"
)

// eventStream adapts the server-sent events of an invocation to
// invoke.ChunkStream. It owns the response body and the call's cancel func.
type eventStream struct {
	dec    ssestream.Decoder
	cancel context.CancelFunc

	cur  invoke.Chunk
	err  error
	done bool

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(resp *http.Response, cancel context.CancelFunc) *eventStream {
	return &eventStream{dec: ssestream.NewDecoder(resp), cancel: cancel}
}

func (s *eventStream) Next() bool {
	if s.done || s.err != nil || s.dec == nil {
		return false
	}

	if !s.dec.Next() {
		s.done = true
		if err := s.dec.Err(); err != nil {
			s.err = fmt.Errorf("%w: read stream: %w", invoke.ErrInvocation, err)
		}
		return false
	}

	ev := s.dec.Event()
	switch ev.Type {
	case EventTextDelta:
		var text string
		if err := json.Unmarshal(ev.Data, &text); err != nil {
			s.err = fmt.Errorf("%w: decode text delta: %w", invoke.ErrInvocation, err)
			return false
		}
		s.cur = invoke.Chunk{Type: ev.Type, Data: text}
	case EventJSONDelta:
		s.cur = invoke.Chunk{Type: ev.Type, Data: strings.TrimSuffix(string(ev.Data), "\n")}
	case EventError:
		s.err = fmt.Errorf("%w: remote stream error: %s", invoke.ErrInvocation, eventMessage(ev.Data))
		return false
	case EventDone:
		s.done = true
		return false
	default:
		s.cur = invoke.Chunk{Type: ev.Type}
	}
	return true
}

func (s *eventStream) Chunk() invoke.Chunk { return s.cur }

func (s *eventStream) Err() error { return s.err }

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		if s.dec != nil {
			s.closeErr = s.dec.Close()
		}
		s.cancel()
	})
	return s.closeErr
}

// eventMessage renders an error event payload, which is usually a JSON string.
func eventMessage(data []byte) string {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		return msg
	}
	return strings.TrimSpace(string(data))
}
