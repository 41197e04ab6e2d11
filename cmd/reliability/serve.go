package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/elder-voice/reliability/internal/api"
	"github.com/elder-voice/reliability/internal/collector"
	"github.com/elder-voice/reliability/internal/health"
)

const (
	// staleIntervals is how many missed rounds turn /health degraded.
	staleIntervals  = 3
	maxGoroutines   = 10000
	shutdownTimeout = 10 * time.Second
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor loop and the status/health/metrics HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *globalFlags) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := build(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("starting reliability service",
		"listen", cfg.Listen,
		"interval", cfg.CheckInterval(),
		"retry_limit", cfg.RetryLimit,
		"dependencies", cfg.DependencyIDs(),
	)

	coll := collector.New(collector.DefaultConfig(), c.metrics, logger)
	healthHandler := health.NewHandler(c.store, coll.LastUpdateTime, staleIntervals*cfg.CheckInterval(), logger)

	router := api.NewRouter(api.Options{
		Store:         c.store,
		Health:        healthHandler,
		Gatherer:      c.registry,
		Running:       c.scheduler.Running,
		MaxGoroutines: maxGoroutines,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g := &run.Group{}

	{
		runCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return c.scheduler.Run(runCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		collCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return coll.Run(collCtx, c.bus)
		}, func(error) {
			cancel()
		})
	}

	g.Add(func() error {
		logger.Info("HTTP server starting", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
	})

	{
		sig := make(chan os.Signal, 1)
		stop := make(chan struct{})
		g.Add(func() error {
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				logger.Info("received signal, shutting down", "signal", s)
			case <-ctx.Done():
			case <-stop:
			}
			return nil
		}, func(error) {
			signal.Stop(sig)
			close(stop)
		})
	}

	err = g.Run()
	logger.Info("reliability service stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
