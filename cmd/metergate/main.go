// Command metergate serves the adherence evaluation and usage metering
// API. Business logic lives in the internal and infrastructure
// packages; main only wires dependencies and owns the server
// lifecycle.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evanmarch/metergate/infrastructure/auditstore"
	"github.com/evanmarch/metergate/infrastructure/gates"
	"github.com/evanmarch/metergate/infrastructure/httpapi"
	"github.com/evanmarch/metergate/infrastructure/marketplace"
	"github.com/evanmarch/metergate/infrastructure/metering"
	"github.com/evanmarch/metergate/infrastructure/observability"
	"github.com/evanmarch/metergate/infrastructure/taskmeter"
	"github.com/evanmarch/metergate/internal/application"
	"github.com/evanmarch/metergate/internal/ports"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	endpoint := flag.String("marketplace-endpoint", os.Getenv("METERGATE_MARKETPLACE_ENDPOINT"),
		"usage submission endpoint (required outside dry-run)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := application.DefaultConfig()
	if *configPath != "" {
		loaded, err := application.LoadConfig(*configPath)
		if err != nil {
			logger.Error("loading configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg = cfg.FromEnv()

	metrics := observability.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	pipeline, err := gates.NewPipeline(cfg.Contract)
	if err != nil {
		logger.Error("building gate pipeline", "error", err)
		os.Exit(1)
	}

	evaluator, err := application.NewEvaluator(pipeline, auditstore.NewMemory(),
		application.WithLogger(logger),
		application.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("building evaluator", "error", err)
		os.Exit(1)
	}

	var submitter ports.Submitter
	if !cfg.Meter.DryRun {
		client, err := marketplace.NewClient(*endpoint,
			marketplace.WithAPIKey(os.Getenv("METERGATE_MARKETPLACE_API_KEY")))
		if err != nil {
			logger.Error("building marketplace client", "error", err)
			os.Exit(1)
		}
		submitter = client
	}

	engine, err := metering.NewEngine(cfg.Meter, submitter,
		metering.WithLogger(logger),
		metering.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("building metering engine", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewHandler(evaluator, engine, taskmeter.NewMeter(), logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metergate listening",
			"addr", cfg.Server.Addr,
			"dry_run", cfg.Meter.DryRun,
			"hourly_cap", cfg.Meter.Guardrails.HourlyCap,
			"daily_cap", cfg.Meter.Guardrails.DailyCap,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("metergate stopped")
}
