// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Catalog    *Catalog
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Invoker answers prompt requests from the catalog with the Responses API.
type Invoker struct {
	client  openai.Client
	catalog *Catalog
	logger  *slog.Logger
}

func NewInvoker(cfg Config) (*Invoker, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog invoker requires a catalog")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("catalog invoker requires an api key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Invoker{
		client:  openai.NewClient(opts...),
		catalog: cfg.Catalog,
		logger:  logger,
	}, nil
}

func (i *Invoker) Invoke(ctx context.Context, req invoke.Request) (invoke.Result, error) {
	rendered, err := i.catalog.Render(req.Project, req.Slug, req.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", invoke.ErrInvocation, err)
	}
	params := buildParams(rendered)

	if req.Streaming() {
		s := i.client.Responses.NewStreaming(ctx, params)
		return &invoke.Stream{Chunks: &responseStream{src: s}}, nil
	}

	resp, err := i.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", invoke.ErrInvocation, req.Project, req.Slug, err)
	}
	text := resp.OutputText()
	i.logger.Debug("catalog prompt answered",
		"project", req.Project,
		"slug", req.Slug,
		"model", rendered.Model,
		"output_tokens", resp.Usage.OutputTokens,
	)

	if req.Shape == invoke.ShapeRecord {
		rec, err := invoke.DecodeRecord([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %w", invoke.ErrInvocation, req.Project, req.Slug, err)
		}
		return rec, nil
	}
	return invoke.Text(text), nil
}

func buildParams(r Rendered) responses.ResponseNewParams {
	items := make(responses.ResponseInputParam, 0, 2)
	if r.SystemText != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(r.SystemText, responses.EasyInputMessageRoleSystem))
	}
	items = append(items, responses.ResponseInputItemParamOfMessage(r.UserText, responses.EasyInputMessageRoleUser))

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(r.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if r.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(r.MaxOutputTokens)
	}
	return params
}

// responseStream adapts Responses API stream events to invoke.ChunkStream.
// Text deltas carry data; every other event is an empty chunk.
type responseStream struct {
	src *ssestream.Stream[responses.ResponseStreamEventUnion]
	cur invoke.Chunk
	err error
}

func (s *responseStream) Next() bool {
	if s.err != nil || !s.src.Next() {
		return false
	}

	ev := s.src.Current()
	switch e := ev.AsAny().(type) {
	case responses.ResponseTextDeltaEvent:
		s.cur = invoke.Chunk{Type: "text_delta", Data: e.Delta}
	case responses.ResponseErrorEvent:
		s.err = fmt.Errorf("%w: remote stream error: %s", invoke.ErrInvocation, e.Message)
		return false
	case responses.ResponseFailedEvent:
		s.err = fmt.Errorf("%w: response failed: %s", invoke.ErrInvocation, e.Response.Error.Message)
		return false
	default:
		s.cur = invoke.Chunk{Type: ev.Type}
	}
	return true
}

func (s *responseStream) Chunk() invoke.Chunk { return s.cur }

func (s *responseStream) Err() error {
	if s.err != nil {
		return s.err
	}
	if err := s.src.Err(); err != nil {
		return fmt.Errorf("%w: read stream: %w", invoke.ErrInvocation, err)
	}
	return nil
}

func (s *responseStream) Close() error {
	return s.src.Close()
}
