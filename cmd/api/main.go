// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/backend"
	"github.com/d-gangz/glowing-braintrust/internal/chains"
	"github.com/d-gangz/glowing-braintrust/internal/config"
	"github.com/d-gangz/glowing-braintrust/internal/logging"
	"github.com/d-gangz/glowing-braintrust/internal/persistence/postgres"
	"github.com/d-gangz/glowing-braintrust/internal/repository"
	"github.com/d-gangz/glowing-braintrust/internal/telemetry"
	"github.com/d-gangz/glowing-braintrust/internal/tools"
	httptransport "github.com/d-gangz/glowing-braintrust/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.New(os.Stderr, cfg.Env, cfg.LogLevel)

	shutdownTracing := telemetry.Init(ctx, logger, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "glowing-braintrust-api",
		Environment: cfg.Env,
		Version:     Version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	be, err := backend.New(cfg, logger)
	if err != nil {
		log.Fatalf("backend setup failed: %v", err)
	}

	registry, err := chains.NewRegistry(chains.Deps{
		Invoker: be.Invoker,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("chain setup failed: %v", err)
	}

	weather := tools.NewWeatherClient(tools.WeatherConfig{
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherAPIURL,
		Logger:  logger,
	})

	deps := httptransport.Deps{
		Chains:               registry,
		Weather:              weather,
		Logger:               logger,
		APIToken:             cfg.APIToken,
		ChainRateLimitPerMin: cfg.ChainRateLimitMin,
		Version:              Version,
		Commit:               Commit,
		BuildDate:            BuildDate,
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	switch {
	case errors.Is(err, postgres.ErrNoDatabase):
		logger.Info("experiment store disabled", "reason", "DATABASE_URL is not set")
	case err != nil:
		log.Fatalf("db connect failed: %v", err)
	default:
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				log.Fatalf("schema bootstrap failed: %v", err)
			}
		}
		deps.Experiments = repository.NewExperimentRepository(pool, logger)
		deps.Health = postgres.NewSchemaHealthChecker(pool)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"backend", be.Name,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
