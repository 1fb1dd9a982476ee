// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendBraintrust = "braintrust"
	BackendCatalog    = "catalog"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	DatabaseURL string
	AutoMigrate bool

	// APIToken guards every HTTP route but health, metrics and version.
	APIToken          string
	ChainRateLimitMin int
	ShutdownTimeout   time.Duration

	Backend          string
	BraintrustAPIURL string
	BraintrustAPIKey string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	PromptCatalog    string
	InvokeTimeout    time.Duration

	OpenWeatherAPIKey string
	OpenWeatherAPIURL string

	EvalConcurrency   int
	EvalWebhookURL    string
	EvalWebhookSecret string

	OTelEnabled     bool
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
}

func Load() Config {
	return Config{
		Env:      getenv("ENV", "dev"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		AutoMigrate: getenvBool("AUTO_MIGRATE", true),

		APIToken:          getenv("API_TOKEN", ""),
		ChainRateLimitMin: getenvInt("CHAIN_RATE_LIMIT_PER_MIN", 0),
		ShutdownTimeout:   getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		Backend:          strings.ToLower(getenv("BACKEND", BackendBraintrust)),
		BraintrustAPIURL: getenv("BRAINTRUST_API_URL", "https://api.braintrust.dev"),
		BraintrustAPIKey: getenv("BRAINTRUST_API_KEY", ""),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getenv("OPENAI_BASE_URL", ""),
		PromptCatalog:    getenv("PROMPT_CATALOG", "configs/prompts.yaml"),
		InvokeTimeout:    getenvDuration("INVOKE_TIMEOUT", 2*time.Minute),

		OpenWeatherAPIKey: getenv("OPENWEATHER_API_KEY", ""),
		OpenWeatherAPIURL: getenv("OPENWEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),

		EvalConcurrency:   getenvInt("EVAL_CONCURRENCY", 1),
		EvalWebhookURL:    getenv("EVAL_WEBHOOK_URL", ""),
		EvalWebhookSecret: getenv("EVAL_WEBHOOK_SECRET", ""),

		OTelEnabled:     getenvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelInsecure:    getenvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTelSampleRatio: getenvFloat("OTEL_SAMPLER_RATIO", 1),
	}
}

func getenv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		return v
	}
	return defaultValue
}

func getenvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvFloat(key string, defaultValue float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
