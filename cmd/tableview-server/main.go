// Package main is the entry point for the table data server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/metacache"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// defaultTableID names the table mounted at startup.
const defaultTableID = "default"

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to configuration file (defaults apply when empty)")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "tableview-server", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Mount the startup table. It loads in the background; list
	// requests wait for it and the other endpoints answer 503 until then.
	tables := mount.NewRegistry[*dataset.Instance](metrics.SetMountedInstances)
	inst, err := dataset.NewInstance(cfg.Dataset, logger, metrics)
	if err != nil {
		logger.Error("dataset initialization failed", zap.Error(err))
		return 1
	}
	if err := tables.RegisterID(defaultTableID, inst); err != nil {
		logger.Error("mounting startup table failed", zap.Error(err))
		return 1
	}
	go func() {
		start := time.Now()
		inst.Seed()
		logger.Info("startup table loaded",
			zap.String("table_id", defaultTableID),
			zap.Int("rows", inst.Table.Len()),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	// Step 5: Build HTTP router. With a Redis cache configured, readiness
	// also covers the store viewers share their metadata through.
	var readiness observability.ReadinessChecks
	if cfg.Cache.Driver == config.CacheRedis {
		store, err := metacache.NewStore(cfg.Cache)
		if err != nil {
			logger.Error("metacache store initialization failed", zap.Error(err))
			return 1
		}
		defer store.Close()
		if hc, ok := store.(observability.HealthChecker); ok {
			readiness.MetaCache = hc
		}
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Tables:    tables,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 6: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("schema", cfg.Dataset.Schema),
		zap.Int("seed_rows", cfg.Dataset.SeedRows),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop every generator still running.
	for _, id := range tables.IDs() {
		if inst, ok := tables.Deregister(id); ok {
			inst.Close()
		}
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}
