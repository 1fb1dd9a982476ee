// SPDX-License-Identifier: Apache-2.0

// Package backend builds the prompt invoker a process runs against.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/d-gangz/glowing-braintrust/internal/braintrust"
	"github.com/d-gangz/glowing-braintrust/internal/catalog"
	"github.com/d-gangz/glowing-braintrust/internal/config"
	"github.com/d-gangz/glowing-braintrust/internal/eval"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

var ErrNoRemoteDatasets = errors.New("remote datasets require the braintrust backend")

type Backend struct {
	Name    string
	Invoker invoke.Invoker
	// Braintrust is nil for the catalog backend.
	Braintrust *braintrust.Client
}

// New selects the backend named in cfg and wraps it with instrumentation.
func New(cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.BackendBraintrust, "":
		client, err := braintrust.NewClient(braintrust.ClientConfig{
			BaseURL: cfg.BraintrustAPIURL,
			APIKey:  cfg.BraintrustAPIKey,
			Timeout: cfg.InvokeTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("braintrust backend: %w", err)
		}
		return &Backend{
			Name:       config.BackendBraintrust,
			Invoker:    invoke.Instrument(client, invoke.InstrumentOptions{Logger: logger}),
			Braintrust: client,
		}, nil

	case config.BackendCatalog:
		cat, err := catalog.LoadFile(cfg.PromptCatalog)
		if err != nil {
			return nil, fmt.Errorf("catalog backend: %w", err)
		}
		inv, err := catalog.NewInvoker(catalog.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Catalog:    cat,
			HTTPClient: &http.Client{Timeout: cfg.InvokeTimeout},
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("catalog backend: %w", err)
		}
		return &Backend{
			Name:    config.BackendCatalog,
			Invoker: invoke.Instrument(inv, invoke.InstrumentOptions{Logger: logger}),
		}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Dataset resolves a named remote dataset.
func (b *Backend) Dataset(project, name string) (eval.Dataset, error) {
	if b.Braintrust == nil {
		return nil, fmt.Errorf("%w: dataset %s", ErrNoRemoteDatasets, name)
	}
	return b.Braintrust.Dataset(project, name), nil
}
