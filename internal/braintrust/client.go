// SPDX-License-Identifier: Apache-2.0

// Package braintrust invokes hosted prompts and reads datasets over the
// Braintrust REST API.
package braintrust

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

const (
	DefaultBaseURL = "https://api.braintrust.dev"
	DefaultTimeout = 2 * time.Minute

	maxErrorBody = 64 << 10
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("braintrust: status %d", e.StatusCode)
	}
	return fmt.Sprintf("braintrust: status %d: %s", e.StatusCode, e.Body)
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each call; for streams it covers the whole stream.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("braintrust api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    httpClient,
		logger:  logger,
	}, nil
}

type invokeBody struct {
	ProjectName string       `json:"project_name"`
	Slug        string       `json:"slug"`
	Input       invoke.Input `json:"input"`
	Stream      bool         `json:"stream"`
}

// Invoke calls the prompt named by req. Streaming requests return as soon as
// the response headers arrive; the caller must Close the stream.
func (c *Client) Invoke(ctx context.Context, req invoke.Request) (invoke.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	resp, err := c.do(ctx, http.MethodPost, "/function/invoke", invokeBody{
		ProjectName: req.Project,
		Slug:        req.Slug,
		Input:       req.Input.Clone(),
		Stream:      req.Streaming(),
	}, req.Streaming())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s/%s: %w", invoke.ErrInvocation, req.Project, req.Slug, err)
	}

	if req.Streaming() {
		return &invoke.Stream{Chunks: newEventStream(resp, cancel)}, nil
	}

	defer cancel()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: read body: %w", invoke.ErrInvocation, req.Project, req.Slug, err)
	}

	var res invoke.Result
	switch req.Shape {
	case invoke.ShapeRecord:
		res, err = invoke.DecodeRecord(body)
	default:
		res, err = invoke.DecodeText(body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", invoke.ErrInvocation, req.Project, req.Slug, err)
	}
	return res, nil
}

// do sends one request and returns the response of a 2xx answer. Any other
// status is drained into an *APIError.
func (c *Client) do(ctx context.Context, method, path string, payload any, stream bool) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("braintrust request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, nil
}
