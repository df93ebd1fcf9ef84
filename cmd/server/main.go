// Package main provides the entry point for the framekit API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/framekit-api/internal/bootstrap"
	"github.com/maauso/framekit-api/internal/config"
	"github.com/maauso/framekit-api/internal/server"
	"github.com/maauso/framekit-api/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting framekit API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("storage_root", cfg.StorageRoot),
		slog.Int("max_upload_mb", cfg.MaxUploadMB),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("minio_enabled", cfg.MinioEnabled()),
		slog.String("trace_exporter", cfg.TraceExporter),
	)

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "framekit-api",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Orchestrator, deps.Files, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
	)
	routerCfg := server.DefaultConfig()
	routerCfg.FilesRoot = deps.Files.Root()
	routerCfg.Metrics = deps.Metrics
	router := server.NewRouter(handlers, logger, routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute, // Large video uploads
		WriteTimeout:      10 * time.Minute, // Archive downloads
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Running jobs finish before exit so no record is left non-terminal.
	logger.Info("waiting for running jobs")
	deps.Orchestrator.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}
