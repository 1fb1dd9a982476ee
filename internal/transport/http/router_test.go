// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/chain"
	"github.com/d-gangz/glowing-braintrust/internal/chains"
	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/invoke/invoketest"
	"github.com/d-gangz/glowing-braintrust/internal/tools"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Healthz(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := serve(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRouter_HealthzReportsSchemaFailure(t *testing.T) {
	router := NewRouter(Deps{
		Health: &mockHealthChecker{err: errors.New("missing table experiments")},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Version(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger(), Version: "1.2.3"})

	rec := serve(router, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, map[string]string{
		"version":    "1.2.3",
		"commit":     "none",
		"build_date": "unknown",
	}, resp)
}

func TestRouter_Metrics(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := serve(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ListChains(t *testing.T) {
	registry, err := chains.NewRegistry(chains.Deps{
		Invoker:  invoketest.NewInvoker(),
		Logger:   discardLogger(),
		Contexts: func(context.Context) (string, error) { return "somewhere", nil },
	})
	require.NoError(t, err)
	router := NewRouter(Deps{Chains: registry, Logger: discardLogger()})

	rec := serve(router, http.MethodGet, "/chains", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Chains []chain.Info `json:"chains"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Chains, 4)
	assert.Equal(t, chains.NameStory, resp.Chains[0].Name)
	for _, info := range resp.Chains {
		if info.Name == chains.NameSuggestedResponse {
			assert.True(t, info.Streams, "suggested-response streams")
		}
	}
}

func TestRouter_InvokeChain(t *testing.T) {
	fake := invoketest.NewInvoker().
		Returns(chains.SlugStoryOutline, invoke.Text("1. A ship. 2. A storm.")).
		Returns(chains.SlugStory, invoke.Text("The ship survived."))
	story, err := chains.Story(chains.Deps{Invoker: fake, Logger: discardLogger()})
	require.NoError(t, err)
	router := NewRouter(Deps{Chains: stubRegistry{chains.NameStory: story}, Logger: discardLogger()})

	rec := serve(router, http.MethodPost, "/chains/story/invoke", `{"input":{"genre":"adventure","context":"at sea"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, chains.NameStory, resp["chain"])
	assert.Equal(t, "The ship survived.", resp["output"])

	req, ok := fake.Request(chains.SlugStoryOutline)
	require.True(t, ok, "outline prompt invoked")
	assert.Equal(t, "adventure", req.Input.Get("genre"))
	assert.Equal(t, "at sea", req.Input.Get("context"))
}

func TestRouter_InvokeChainReturnsRecord(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("classify", invoke.Record{"label": "billing", "confidence": 0.9})
	router := NewRouter(Deps{
		Chains: stubRegistry{"classify": oneStepChain(t, fake, "classify", invoke.ShapeRecord)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/classify/invoke", `{"input":{"message":"my bill is wrong"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Output map[string]any `json:"output"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "billing", resp.Output["label"])
}

func TestRouter_InvokeChainDrainsStream(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", &invoke.Stream{Chunks: invoketest.TextStream("Hello ", "Ms. Chan")})
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeStream)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/reply/invoke", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"output":"Hello Ms. Chan"`)
}

func TestRouter_InvokeChainNotFound(t *testing.T) {
	router := NewRouter(Deps{Chains: stubRegistry{}, Logger: discardLogger()})

	rec := serve(router, http.MethodPost, "/chains/missing/invoke", `{"input":{}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_InvokeChainInvalidBody(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", invoke.Text("ok"))
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		Logger: discardLogger(),
	})

	for _, body := range []string{`{"inputs":{}}`, `{"input":{"a":1}}`, `{"input":{}}{}`} {
		rec := serve(router, http.MethodPost, "/chains/reply/invoke", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
	assert.Empty(t, fake.Requests(), "invalid bodies never reach the invoker")
}

func TestRouter_InvokeChainUpstreamFailure(t *testing.T) {
	fake := invoketest.NewInvoker().Fails("reply", fmt.Errorf("%w: upstream 500", invoke.ErrInvocation))
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/reply/invoke", `{"input":{}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouter_InvokeChainTimeout(t *testing.T) {
	fake := invoketest.NewInvoker().Fails("reply", context.DeadlineExceeded)
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/reply/invoke", `{"input":{}}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestRouter_StreamChain(t *testing.T) {
	src := invoketest.TextStream("Once ", "", "upon a time")
	fake := invoketest.NewInvoker().Returns("reply", &invoke.Stream{Chunks: src})
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeStream)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/reply/stream", `{"input":{"conversation":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	want := "event: delta\ndata: {\"text\":\"Once \"}\n\n" +
		"event: delta\ndata: {\"text\":\"upon a time\"}\n\n" +
		"event: done\ndata: {\"output\":\"Once upon a time\"}\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, src.Closed(), "upstream stream closed")
}

func TestRouter_StreamChainTextResultIsOneDelta(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", invoke.Text("whole"))
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/reply/stream", "")
	want := "event: delta\ndata: {\"text\":\"whole\"}\n\n" +
		"event: done\ndata: {\"output\":\"whole\"}\n\n"
	assert.Equal(t, want, rec.Body.String())
}

func TestRouter_StreamChainInterrupted(t *testing.T) {
	src := invoketest.TextStream("Once ")
	src.Error = errors.New("connection reset")
	fake := invoketest.NewInvoker().Returns("reply", &invoke.Stream{Chunks: src})
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeStream)},
		Logger: discardLogger(),
	})

	body := serve(router, http.MethodPost, "/chains/reply/stream", "").Body.String()
	assert.Contains(t, body, "event: delta\ndata: {\"text\":\"Once \"}", "partial delta precedes the error")
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "connection reset")
	assert.NotContains(t, body, "event: done")
}

func TestRouter_StreamChainFailsBeforeHeaders(t *testing.T) {
	fake := invoketest.NewInvoker().Fails("reply", fmt.Errorf("%w: 401", invoke.ErrInvocation))
	router := NewRouter(Deps{
		Chains: stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeStream)},
		Logger: discardLogger(),
	})

	rec := serve(router, http.MethodPost, "/chains/reply/stream", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouter_Calculator(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := serve(router, http.MethodPost, "/tools/calculator", `{"op":"multiply","a":6,"b":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]float64
	decodeBody(t, rec, &resp)
	assert.Equal(t, 42.0, resp["result"])

	cases := map[string]int{
		`{"op":"divide","a":1,"b":0}`: http.StatusUnprocessableEntity,
		`{"op":"modulo","a":1,"b":2}`: http.StatusBadRequest,
		"":                            http.StatusBadRequest,
	}
	for body, want := range cases {
		rec = serve(router, http.MethodPost, "/tools/calculator", body)
		assert.Equal(t, want, rec.Code, "body %q", body)
	}
}

func TestRouter_CurrentWeather(t *testing.T) {
	lookup := &mockWeather{weather: &tools.Weather{CityName: "Singapore", Temperature: 31.2, Units: "metric"}}
	router := NewRouter(Deps{Weather: lookup, Logger: discardLogger()})

	rec := serve(router, http.MethodPost, "/tools/current-weather", `{"city":"Singapore","country_code":"SG"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got tools.Weather
	decodeBody(t, rec, &got)
	assert.Equal(t, "Singapore", got.CityName)
	assert.Equal(t, 31.2, got.Temperature)
	assert.Equal(t, "Singapore", lookup.req.City)
	assert.Equal(t, "SG", lookup.req.CountryCode)
}

func TestRouter_CurrentWeatherFailureIsData(t *testing.T) {
	lookup := &mockWeather{failure: &tools.ErrorRecord{Error: "API error: 404", Message: `{"message":"city not found"}`}}
	router := NewRouter(Deps{Weather: lookup, Logger: discardLogger()})

	rec := serve(router, http.MethodPost, "/tools/current-weather", `{"city":"Atlantis","country_code":"XX"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got tools.ErrorRecord
	decodeBody(t, rec, &got)
	assert.Equal(t, "API error: 404", got.Error)
}

func TestRouter_CurrentWeatherNotConfigured(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := serve(router, http.MethodPost, "/tools/current-weather", `{"city":"Singapore","country_code":"SG"}`)
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code, "weather route is absent")
}

func TestRouter_ListTools(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := serve(router, http.MethodGet, "/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tools []tools.Definition `json:"tools"`
	}
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Tools, 2)
}

func TestRouter_Experiments(t *testing.T) {
	exp := domain.Experiment{
		ID:        uuid.New(),
		Name:      "prompt_chain_evaluation",
		Chain:     chains.NameStory,
		Status:    domain.ExperimentSucceeded,
		Total:     3,
		Succeeded: 3,
		StartedAt: time.Now().UTC(),
	}
	reader := &mockExperiments{
		experiments: map[uuid.UUID]domain.Experiment{exp.ID: exp},
		records: map[uuid.UUID][]domain.EvalRecord{
			exp.ID: {{ID: uuid.New(), ExperimentID: exp.ID, CaseIndex: 0, Output: "a story", Status: domain.RecordSucceeded}},
		},
	}
	router := NewRouter(Deps{Experiments: reader, Logger: discardLogger()})

	rec := serve(router, http.MethodGet, "/experiments?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reader.lastLimit)

	serve(router, http.MethodGet, "/experiments", "")
	assert.Equal(t, defaultExperimentListLimit, reader.lastLimit)

	rec = serve(router, http.MethodGet, "/experiments?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodGet, "/experiments/"+exp.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Experiment
	decodeBody(t, rec, &got)
	assert.Equal(t, exp.ID, got.ID)
	assert.Equal(t, domain.ExperimentSucceeded, got.Status)

	rec = serve(router, http.MethodGet, "/experiments/"+exp.ID.String()+"/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs struct {
		ExperimentID string              `json:"experiment_id"`
		Records      []domain.EvalRecord `json:"records"`
	}
	decodeBody(t, rec, &recs)
	assert.Equal(t, exp.ID.String(), recs.ExperimentID)
	assert.Len(t, recs.Records, 1)

	rec = serve(router, http.MethodGet, "/experiments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodGet, "/experiments/"+uuid.NewString()+"/records", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodGet, "/experiments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ExperimentsStoreFailure(t *testing.T) {
	reader := &mockExperiments{err: errors.New("connection refused")}
	router := NewRouter(Deps{Experiments: reader, Logger: discardLogger()})

	rec := serve(router, http.MethodGet, "/experiments", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_APITokenGuardsRoutes(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", invoke.Text("ok"))
	router := NewRouter(Deps{
		Chains:   stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		APIToken: "api-secret",
		Logger:   discardLogger(),
	})

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", "").Code, "healthz stays open")

	for _, path := range []string{"/chains", "/tools"} {
		assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, path, "").Code, path)
	}

	rec := serveFrom(router, "/chains/reply/invoke", "192.0.2.1:1234", "Bearer api-secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ChainRateLimit(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", invoke.Text("ok"))
	router := NewRouter(Deps{
		Chains:               stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		ChainRateLimitPerMin: 1,
		Logger:               discardLogger(),
	})

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/chains/reply/invoke", "").Code)

	rec := serve(router, http.MethodPost, "/chains/reply/invoke", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/tools", "").Code, "tools are not rate limited")
}

func TestRouter_ChainRateLimitIgnoresUncheckedBearer(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", invoke.Text("ok"))
	router := NewRouter(Deps{
		Chains:               stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		ChainRateLimitPerMin: 1,
		Logger:               discardLogger(),
	})

	allowed := 0
	for i := 0; i < 20; i++ {
		rec := serveFrom(router, "/chains/reply/invoke", "10.0.0.1:40000", fmt.Sprintf("Bearer junk-%d", i))
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed, "made-up tokens share the address bucket")
}

func TestRouter_ChainRateLimitKeysByCheckedToken(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("reply", invoke.Text("ok"))
	router := NewRouter(Deps{
		Chains:               stubRegistry{"reply": oneStepChain(t, fake, "reply", invoke.ShapeText)},
		APIToken:             "api-secret",
		ChainRateLimitPerMin: 1,
		Logger:               discardLogger(),
	})

	rec := serveFrom(router, "/chains/reply/invoke", "10.0.0.1:40000", "Bearer api-secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serveFrom(router, "/chains/reply/invoke", "10.0.0.2:40000", "Bearer api-secret")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "one token has one bucket across addresses")

	rec = serveFrom(router, "/chains/reply/invoke", "10.0.0.3:40000", "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unchecked tokens never reach the limiter")
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// serveFrom posts an empty body from remoteAddr with the given Authorization
// header.
func serveFrom(h http.Handler, path, remoteAddr, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("Authorization", authorization)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func oneStepChain(t *testing.T, inv invoke.Invoker, slug string, shape invoke.Shape) *chain.Chain {
	t.Helper()

	c, err := chain.New(chain.Config{
		Name:    slug,
		Project: chains.ProjectSuggestedResponse,
		Invoker: inv,
		Logger:  discardLogger(),
		Steps: []chain.Step{
			{Name: slug, Slug: slug, Shape: shape, Params: chain.FromTask("conversation")},
		},
	})
	require.NoError(t, err)
	return c
}

type stubRegistry map[string]*chain.Chain

func (s stubRegistry) Get(name string) (*chain.Chain, bool) {
	c, ok := s[name]
	return c, ok
}

func (s stubRegistry) Describe() []chain.Info {
	out := make([]chain.Info, 0, len(s))
	for _, c := range s {
		out = append(out, c.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type mockWeather struct {
	weather *tools.Weather
	failure *tools.ErrorRecord
	req     tools.WeatherRequest
}

func (m *mockWeather) Current(_ context.Context, req tools.WeatherRequest) (*tools.Weather, *tools.ErrorRecord) {
	m.req = req
	return m.weather, m.failure
}

type mockExperiments struct {
	experiments map[uuid.UUID]domain.Experiment
	records     map[uuid.UUID][]domain.EvalRecord
	lastLimit   int
	err         error
}

func (m *mockExperiments) GetExperiment(_ context.Context, id uuid.UUID) (domain.Experiment, error) {
	if m.err != nil {
		return domain.Experiment{}, m.err
	}
	exp, ok := m.experiments[id]
	if !ok {
		return domain.Experiment{}, domain.ErrExperimentNotFound
	}
	return exp, nil
}

func (m *mockExperiments) ListExperiments(_ context.Context, limit int) ([]domain.Experiment, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		out = append(out, exp)
	}
	return out, nil
}

func (m *mockExperiments) ListRecords(_ context.Context, id uuid.UUID) ([]domain.EvalRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.experiments[id]; !ok {
		return nil, domain.ErrExperimentNotFound
	}
	return m.records[id], nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Check(context.Context) error {
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
