// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/metrics"
)

const (
	DefaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"
	DefaultUnits      = "metric"
	DefaultLang       = "en"

	errMissingKey = "API key not found in environment variables"
)

var weatherUnits = []string{"standard", "metric", "imperial"}

type WeatherRequest struct {
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
	Units       string `json:"units,omitempty"`
	Lang        string `json:"lang,omitempty"`
}

type Weather struct {
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	Country     string  `json:"country"`
	CityName    string  `json:"city_name"`
	WeatherMain string  `json:"weather_main"`
	Pressure    int     `json:"pressure"`
	Units       string  `json:"units"`
}

// ErrorRecord is the failure answer of the weather tool. It is returned as
// data so callers can hand it straight back to the model.
type ErrorRecord struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type WeatherConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type WeatherClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewWeatherClient(cfg WeatherConfig) *WeatherClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultWeatherURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger,
	}
}

// owmResponse is the subset of the OpenWeatherMap current-weather payload we read.
type owmResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
}

// Current looks up the weather for req.City in req.CountryCode. Exactly one of
// the results is non-nil.
func (c *WeatherClient) Current(ctx context.Context, req WeatherRequest) (*Weather, *ErrorRecord) {
	w, rec := c.current(ctx, req)
	if rec != nil {
		metrics.IncToolCall(SlugWeather, metrics.StatusError)
		return nil, rec
	}
	metrics.IncToolCall(SlugWeather, metrics.StatusOK)
	return w, nil
}

func (c *WeatherClient) current(ctx context.Context, req WeatherRequest) (*Weather, *ErrorRecord) {
	if c.apiKey == "" {
		c.logger.Error("weather lookup without api key")
		return nil, &ErrorRecord{Error: errMissingKey}
	}

	units := req.Units
	if units == "" {
		units = DefaultUnits
	}
	if !slices.Contains(weatherUnits, units) {
		return nil, &ErrorRecord{Error: fmt.Sprintf("Invalid units: %s", units)}
	}
	lang := req.Lang
	if lang == "" {
		lang = DefaultLang
	}

	q := url.Values{}
	q.Set("q", req.City+","+req.CountryCode)
	q.Set("appid", c.apiKey)
	q.Set("units", units)
	q.Set("lang", lang)

	c.logger.Info("weather data requested",
		"city", req.City,
		"country_code", req.CountryCode,
		"units", units,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, exception(err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("weather request failed", "error", err)
		return nil, exception(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exception(err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("weather api error",
			"response_status", resp.StatusCode,
			"body", string(body),
		)
		return nil, &ErrorRecord{
			Error:   fmt.Sprintf("API error: %d", resp.StatusCode),
			Message: string(body),
		}
	}

	var data owmResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, exception(err)
	}
	if len(data.Weather) == 0 {
		return nil, exception(errors.New("response has no weather conditions"))
	}

	w := &Weather{
		Temperature: data.Main.Temp,
		FeelsLike:   data.Main.FeelsLike,
		Description: data.Weather[0].Description,
		Humidity:    data.Main.Humidity,
		WindSpeed:   data.Wind.Speed,
		Country:     data.Sys.Country,
		CityName:    data.Name,
		WeatherMain: data.Weather[0].Main,
		Pressure:    data.Main.Pressure,
		Units:       units,
	}
	c.logger.Info("weather data returned", "city_name", w.CityName)
	return w, nil
}

func exception(err error) *ErrorRecord {
	return &ErrorRecord{Error: "Exception occurred: " + err.Error()}
}
