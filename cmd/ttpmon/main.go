// The ttpmon server tracks threat-actor technique adoption against an
// external intelligence feed and serves the operator HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelwatch/ttpmon/pkg/alerting"
	"github.com/intelwatch/ttpmon/pkg/api"
	"github.com/intelwatch/ttpmon/pkg/catalog"
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/config"
	"github.com/intelwatch/ttpmon/pkg/database"
	"github.com/intelwatch/ttpmon/pkg/feed"
	"github.com/intelwatch/ttpmon/pkg/jobs"
	"github.com/intelwatch/ttpmon/pkg/metrics"
	"github.com/intelwatch/ttpmon/pkg/reconcile"
	"github.com/intelwatch/ttpmon/pkg/risk"
	"github.com/intelwatch/ttpmon/pkg/scheduler"
	"github.com/intelwatch/ttpmon/pkg/store"
	"github.com/intelwatch/ttpmon/pkg/version"
)

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	// Load .env if present; a missing file is fine in containerized deploys
	// where everything arrives through the environment.
	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No .env file loaded, using existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("Starting ttpmon",
		"version", version.Full(),
		"port", cfg.Port,
		"log_level", cfg.LogLevel)

	ctx := context.Background()

	// 1. Database: connect and apply embedded migrations.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database", "host", dbConfig.Host, "database", dbConfig.Database)

	st := store.New(db)

	// 2. Metrics registry shared by the pipeline and the /metrics endpoint.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// 3. Pipeline: feed client -> reconcile engine -> collection runner,
	// plus the risk evaluator and catalog syncer, all under the job ledger.
	feedClient := feed.NewClient(cfg.Feed.APIKey, cfg.Feed.RequestsPerMinute, m)
	debouncer := alerting.NewDebouncer()
	engine := reconcile.NewEngine(st, feedClient, debouncer, cfg.Thresholds, cfg.Feed.FilesFallbackLimit, m)
	evaluator := risk.NewEvaluator(st, m)
	runner := collector.NewRunner(st, engine, evaluator, cfg.Feed.ScanMinInterval, m)
	syncer := catalog.NewSyncer(st)
	jobSvc := jobs.NewService(st, runner, engine, syncer, m)

	// 4. One-time startup sweep: fail ledger rows orphaned by a dead process.
	if n, err := jobSvc.SweepOrphans(ctx); err != nil {
		slog.Error("Failed to sweep orphaned jobs", "error", err)
		// Non-fatal; continue
	} else if n > 0 {
		slog.Info("Marked orphaned jobs as failed", "count", n)
	}

	// 5. Dispatch loops for scheduled collection runs and catalog refreshes.
	sched := scheduler.New(st, jobSvc)
	sched.Start(ctx)

	// 6. HTTP API.
	server := api.NewServer(st, db, jobSvc, cfg.Thresholds, registry)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("ttpmon started successfully")

	// 7. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop dispatching first, then drain HTTP.
	// In-flight jobs are not cancelled; lease expiry and the orphan sweep
	// cover a worker that dies mid-run.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
