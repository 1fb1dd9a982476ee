// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/metrics"
	"github.com/d-gangz/glowing-braintrust/internal/stream"
	"github.com/d-gangz/glowing-braintrust/internal/tools"
	"github.com/d-gangz/glowing-braintrust/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultExperimentListLimit = 50

type chainRequest struct {
	Input map[string]string `json:"input"`
}

type chainResponse struct {
	Chain  string `json:"chain"`
	Output any    `json:"output"`
}

type Deps struct {
	Chains      ChainRegistry
	Experiments ExperimentReader
	Weather     WeatherLookup
	Health      HealthChecker
	Logger      *slog.Logger
	// APIToken, when set, guards every route except health, metrics and version.
	APIToken string
	// ChainRateLimitPerMin, when positive, limits /chains per caller.
	ChainRateLimitPerMin int
	Version              string
	Commit               string
	BuildDate            string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "schema not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	r.Group(func(r chi.Router) {
		rateKey := middleware.RemoteAddrKey
		if strings.TrimSpace(deps.APIToken) != "" {
			r.Use(middleware.BearerAuth(deps.APIToken, logger))
			rateKey = middleware.BearerKey
		}

		// ---------------- CHAINS ----------------

		if deps.Chains != nil {
			r.Route("/chains", func(r chi.Router) {
				if deps.ChainRateLimitPerMin > 0 {
					r.Use(middleware.RateLimit(deps.ChainRateLimitPerMin, rateKey, logger))
				}

				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusOK, map[string]any{
						"chains": deps.Chains.Describe(),
					})
				})

				r.Post("/{name}/invoke", func(w http.ResponseWriter, r *http.Request) {
					name := chi.URLParam(r, "name")
					setChainName(r.Context(), name)

					c, ok := deps.Chains.Get(name)
					if !ok {
						http.Error(w, "chain not found", http.StatusNotFound)
						return
					}

					reqBody, err := decodeChainRequest(r)
					if err != nil {
						http.Error(w, "invalid request body", http.StatusBadRequest)
						return
					}

					res, err := c.Run(r.Context(), invoke.Input(reqBody.Input))
					if err != nil {
						logger.Error("chain invoke failed", "chain", name, "error", err)
						http.Error(w, "chain failed", chainErrorStatus(err))
						return
					}

					var output any
					if rec, ok := res.(invoke.Record); ok {
						output = rec
					} else {
						text, err := stream.FromResult(res).Drain(r.Context())
						if err != nil {
							logger.Error("chain output stream failed", "chain", name, "error", err)
							http.Error(w, "chain failed", chainErrorStatus(err))
							return
						}
						output = text
					}

					writeJSON(w, http.StatusOK, chainResponse{Chain: name, Output: output})
				})

				// ---------------- STREAM CHAIN (SSE) ----------------

				r.Post("/{name}/stream", func(w http.ResponseWriter, r *http.Request) {
					name := chi.URLParam(r, "name")
					setChainName(r.Context(), name)

					c, ok := deps.Chains.Get(name)
					if !ok {
						http.Error(w, "chain not found", http.StatusNotFound)
						return
					}

					reqBody, err := decodeChainRequest(r)
					if err != nil {
						http.Error(w, "invalid request body", http.StatusBadRequest)
						return
					}

					flusher, ok := w.(http.Flusher)
					if !ok {
						http.Error(w, "streaming unsupported", http.StatusInternalServerError)
						return
					}

					res, err := c.Run(r.Context(), invoke.Input(reqBody.Input))
					if err != nil {
						logger.Error("chain stream failed", "chain", name, "error", err)
						http.Error(w, "chain failed", chainErrorStatus(err))
						return
					}

					agg := stream.FromResult(res)
					defer agg.Close()

					w.Header().Set("Content-Type", "text/event-stream")
					w.Header().Set("Cache-Control", "no-cache")
					w.Header().Set("Connection", "keep-alive")
					w.Header().Set("X-Accel-Buffering", "no")
					w.WriteHeader(http.StatusOK)
					flusher.Flush()

					for fragment, err := range agg.Fragments() {
						if err != nil {
							logger.Error("chain stream interrupted", "chain", name, "error", err)
							_ = writeEvent(w, "error", map[string]string{"error": err.Error()})
							flusher.Flush()
							return
						}
						if err := writeEvent(w, "delta", map[string]string{"text": fragment}); err != nil {
							logger.Warn("sse write failed", "chain", name, "error", err)
							return
						}
						flusher.Flush()
					}

					text, _ := agg.Text()
					if err := writeEvent(w, "done", map[string]string{"output": text}); err != nil {
						logger.Warn("sse write failed", "chain", name, "error", err)
						return
					}
					flusher.Flush()
				})
			})
		}

		// ---------------- TOOLS ----------------

		r.Route("/tools", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{
					"tools": tools.Definitions(),
				})
			})

			r.Post("/calculator", func(w http.ResponseWriter, r *http.Request) {
				var in tools.CalculatorInput
				if err := decodeJSONBody(r, &in); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				result, err := in.Run()
				if err != nil {
					switch {
					case errors.Is(err, tools.ErrDivisionByZero):
						http.Error(w, err.Error(), http.StatusUnprocessableEntity)
					case errors.Is(err, tools.ErrUnknownOperation):
						http.Error(w, err.Error(), http.StatusBadRequest)
					default:
						logger.Error("calculator failed", "error", err)
						http.Error(w, "calculator failed", http.StatusInternalServerError)
					}
					return
				}

				writeJSON(w, http.StatusOK, map[string]float64{"result": result})
			})

			if deps.Weather != nil {
				r.Post("/current-weather", func(w http.ResponseWriter, r *http.Request) {
					var in tools.WeatherRequest
					if err := decodeJSONBody(r, &in); err != nil {
						http.Error(w, "invalid request body", http.StatusBadRequest)
						return
					}

					// Failures are tool answers and go back as data.
					weather, failure := deps.Weather.Current(r.Context(), in)
					if failure != nil {
						writeJSON(w, http.StatusOK, failure)
						return
					}
					writeJSON(w, http.StatusOK, weather)
				})
			}
		})

		// ---------------- EXPERIMENTS ----------------

		if deps.Experiments != nil {
			r.Route("/experiments", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					limit, err := parseLimit(r.URL.Query().Get("limit"))
					if err != nil {
						http.Error(w, "invalid limit", http.StatusBadRequest)
						return
					}

					experiments, err := deps.Experiments.ListExperiments(r.Context(), limit)
					if err != nil {
						logger.Error("list experiments failed", "error", err)
						http.Error(w, "failed to list experiments", http.StatusInternalServerError)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{
						"experiments": experiments,
					})
				})

				r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
					id, err := uuid.Parse(chi.URLParam(r, "id"))
					if err != nil {
						http.Error(w, "invalid experiment ID", http.StatusBadRequest)
						return
					}

					exp, err := deps.Experiments.GetExperiment(r.Context(), id)
					if err != nil {
						if errors.Is(err, domain.ErrExperimentNotFound) {
							http.Error(w, "experiment not found", http.StatusNotFound)
							return
						}
						logger.Error("get experiment failed", "experiment_id", id, "error", err)
						http.Error(w, "failed to get experiment", http.StatusInternalServerError)
						return
					}
					writeJSON(w, http.StatusOK, exp)
				})

				r.Get("/{id}/records", func(w http.ResponseWriter, r *http.Request) {
					id, err := uuid.Parse(chi.URLParam(r, "id"))
					if err != nil {
						http.Error(w, "invalid experiment ID", http.StatusBadRequest)
						return
					}

					records, err := deps.Experiments.ListRecords(r.Context(), id)
					if err != nil {
						if errors.Is(err, domain.ErrExperimentNotFound) {
							http.Error(w, "experiment not found", http.StatusNotFound)
							return
						}
						logger.Error("list eval records failed", "experiment_id", id, "error", err)
						http.Error(w, "failed to list records", http.StatusInternalServerError)
						return
					}

					writeJSON(w, http.StatusOK, struct {
						ExperimentID string              `json:"experiment_id"`
						Records      []domain.EvalRecord `json:"records"`
					}{
						ExperimentID: id.String(),
						Records:      records,
					})
				})
			})
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEvent(w io.Writer, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// chainErrorStatus maps a chain failure to the status the caller sees.
func chainErrorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, invoke.ErrInvocation), errors.Is(err, invoke.ErrUnexpectedShape):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeChainRequest(r *http.Request) (chainRequest, error) {
	var req chainRequest
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	if err := decodeJSONBody(r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return chainRequest{}, nil
		}
		return chainRequest{}, err
	}
	return req, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return io.EOF
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultExperimentListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
