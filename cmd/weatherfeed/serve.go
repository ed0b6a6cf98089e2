package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"weatherfeed/internal/api"
	"weatherfeed/internal/feed"
	"weatherfeed/internal/schedule"
	"weatherfeed/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the refresh scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	p, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, storage.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN, History: cfg.Storage.History}, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	svc, err := feed.Configure(cfg.FeedOptions(), p, feed.WithLogger(logger), feed.WithStore(store))
	if err != nil {
		return err
	}
	defer svc.Close()

	if ok, err := svc.Restore(ctx); err != nil {
		logger.Warn("restore failed; starting empty", "error", err)
	} else if ok {
		logger.Info("restored last snapshot", "version", svc.Current().Version)
	}

	if cfg.Schedule.Enabled {
		runner, err := schedule.New(schedule.Config{
			Interval:   cfg.Schedule.Interval,
			MaxRetries: uint64(max(cfg.Schedule.MaxRetries, 0)),
			RetryBase:  time.Duration(cfg.Schedule.RetryBaseSec) * time.Second,
			RunOnStart: cfg.Schedule.RunOnStart,
		}, svc, logger)
		if err != nil {
			return err
		}
		runner.Start(ctx)
		defer runner.Stop()
	}

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	handler := api.New(svc,
		api.WithLogger(logger),
		api.WithHistory(store),
		api.WithRefreshTimeout(timeout),
	).Handler()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "feed", svc.FeedKey())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
