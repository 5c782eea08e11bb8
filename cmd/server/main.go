package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"tileproxy/internal/config"
	httphandlers "tileproxy/internal/http"
	"tileproxy/internal/logger"
	"tileproxy/internal/metrics"
	"tileproxy/internal/pool"
	"tileproxy/internal/upstream"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	fetchPool := pool.New(cfg.Workers)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry, fetchPool)

	client := upstream.New(upstream.Options{
		URLTemplate: cfg.UpstreamURL,
		Timeout:     cfg.UpstreamTimeout,
		UserAgent:   cfg.UserAgent,
	})

	handlers := httphandlers.New(cfg, log, client, fetchPool, m)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.Routes(registry),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 5*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	log.Info("Starting tile proxy",
		zap.Int("port", cfg.Port),
		zap.Int("workers", cfg.Workers),
		zap.String("log_level", cfg.LogLevel),
		zap.String("upstream", cfg.UpstreamURL),
		zap.Duration("upstream_timeout", cfg.UpstreamTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, server, fetchPool, cfg.ShutdownTimeout, log); err != nil {
		log.Error("Unclean shutdown", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}

	log.Info("Server shutdown complete")
}

// run serves until ctx ends or the listener fails, then shuts down. A listener
// failure is returned even when the shutdown itself is clean.
func run(ctx context.Context, server *http.Server, fetchPool *pool.Pool, grace time.Duration, log *zap.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal, shutting down gracefully...")
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
			result = multierror.Append(result, fmt.Errorf("listen: %w", err))
		}
	}

	if err := shutdown(server, fetchPool, grace); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// shutdown stops the listener, waits for in-flight requests, then releases
// the fetch pool. Both steps share one grace period.
func shutdown(server *http.Server, fetchPool *pool.Pool, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var result error
	if err := server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	if err := fetchPool.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("fetch pool: %w", err))
	}
	return result
}
