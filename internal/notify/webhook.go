// SPDX-License-Identifier: Apache-2.0

// Package notify delivers finished-experiment summaries to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/eval"
	"github.com/d-gangz/glowing-braintrust/internal/metrics"
	"github.com/google/uuid"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

type WebhookConfig struct {
	URL string
	// Secret signs the body with HMAC-SHA256; empty disables signing.
	Secret     string
	HTTPClient *http.Client
	Logger     *slog.Logger
	RetryBase  time.Duration
}

type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
	retryBase  time.Duration
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = webhookRetryBase
	}
	return &Webhook{
		url:        strings.TrimSpace(cfg.URL),
		secret:     cfg.Secret,
		httpClient: httpClient,
		logger:     logger,
		retryBase:  retryBase,
	}
}

type experimentPayload struct {
	ExperimentID uuid.UUID               `json:"experiment_id"`
	Name         string                  `json:"name"`
	Chain        string                  `json:"chain"`
	Dataset      string                  `json:"dataset"`
	Status       domain.ExperimentStatus `json:"status"`
	Total        int                     `json:"total"`
	Succeeded    int                     `json:"succeeded"`
	Failed       int                     `json:"failed"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
	FinishedAt   *time.Time              `json:"finished_at,omitempty"`
}

// ExperimentFinished posts the summary. Delivery failures are logged and
// never reach the caller.
func (w *Webhook) ExperimentFinished(ctx context.Context, summary eval.Summary) {
	if w.url == "" {
		return
	}

	exp := summary.Experiment
	body, err := json.Marshal(experimentPayload{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		Chain:        exp.Chain,
		Dataset:      exp.Dataset,
		Status:       exp.Status,
		Total:        exp.Total,
		Succeeded:    exp.Succeeded,
		Failed:       exp.Failed,
		Metadata:     exp.Metadata,
		FinishedAt:   exp.FinishedAt,
	})
	if err != nil {
		w.logger.Error("webhook payload marshal failed",
			"experiment_id", exp.ID,
			"error", err,
		)
		return
	}

	signature := signPayload(w.secret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			w.logger.Error("webhook request build failed",
				"experiment_id", exp.ID,
				"attempt", attempt,
				"error", err,
			)
			break
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook failure",
				"experiment_id", exp.ID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				metrics.IncWebhookDelivery(metrics.StatusOK)
				w.logger.Info("webhook delivered",
					"experiment_id", exp.ID,
					"attempt", attempt,
					"response_status", resp.StatusCode,
				)
				return
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			w.logger.Warn("webhook failure",
				"experiment_id", exp.ID,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			wait := w.retryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				metrics.IncWebhookDelivery(metrics.StatusError)
				w.logger.Warn("webhook canceled before retry",
					"experiment_id", exp.ID,
					"attempt", attempt,
					"error", ctx.Err(),
				)
				return
			case <-timer.C:
			}
		}
	}

	metrics.IncWebhookDelivery(metrics.StatusError)
	if lastErr != nil {
		w.logger.Error("webhook retries exhausted",
			"experiment_id", exp.ID,
			"error", lastErr,
		)
	}
}

func signPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
