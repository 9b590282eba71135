// RiskGuard - Behavioral risk decisions for subscriber events.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskguard/internal/api"
	"github.com/opensource-finance/riskguard/internal/bus"
	"github.com/opensource-finance/riskguard/internal/cache"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/engine"
	"github.com/opensource-finance/riskguard/internal/repository"
	"github.com/opensource-finance/riskguard/internal/tracing"
	"github.com/opensource-finance/riskguard/internal/worker"
)

func newServeCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, optionally, the bus worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("async") {
				cfg.AsyncWorker = async
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "accept events on the bus and evaluate them in a worker")
	return cmd
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting riskguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"event_bus", cfg.EventBus.Type,
		"async_worker", cfg.AsyncWorker,
	)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	profileCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	if profileCache != nil {
		defer profileCache.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer eventBus.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engOpts := []engine.Option{engine.WithBus(eventBus)}
	handlerOpts := []api.HandlerOption{}
	if profileCache != nil {
		engOpts = append(engOpts, engine.WithCache(profileCache, cfg.Cache.ProfileTTL))
		handlerOpts = append(handlerOpts, api.WithCache(profileCache, cfg.Cache.ProfileTTL))
	}
	eng := engine.New(repo, cfg.Engine, engOpts...)
	slog.Info("decision engine initialized",
		"known_services", eng.Registry().Services(),
		"notification_channel", cfg.Engine.NotificationChannel,
	)

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(eventBus, repo, eng)
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Engine.RuleWorkers}); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		handlerOpts = append(handlerOpts, api.WithAsyncIngest(eventBus))
	}

	srv := api.NewServer(cfg.Server, api.NewHandler(repo, eng, Version, handlerOpts...))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("riskguard is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("riskguard shutdown complete")
	return nil
}
