package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/server"
)

const (
	auditCleanupInterval   = 24 * time.Hour
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
	// serverWriteTimeout must exceed the request timeout so a full sync can respond.
	serverRequestTimeout = 5 * time.Minute
	serverWriteTimeout   = serverRequestTimeout + 30*time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the automatic sync scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				if addr != "" {
					a.cfg.ServerAddr = addr
				}
				return runServe(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	return cmd
}

// runServe serves the admin API and runs the scheduler until ctx is cancelled.
func runServe(ctx context.Context, a *app) error {
	router, err := server.New(server.Config{
		Audit:          a.audit,
		Logger:         a.logger,
		Metrics:        a.metrics,
		Notifications:  a.notifications,
		Registry:       a.registry,
		RequestTimeout: serverRequestTimeout,
		Schedule:       a.db,
		Tracker:        a.tracker,
	})
	if err != nil {
		return fmt.Errorf("creating admin API: %w", err)
	}

	runner, err := schedule.NewRunner(schedule.RunnerConfig{
		Logger:        a.logger,
		Settings:      a.db,
		StaleRunAfter: a.cfg.Sync.StaleAfter,
		Tracker:       a.tracker,
	})
	if err != nil {
		return fmt.Errorf("creating schedule runner: %w", err)
	}

	listener, err := net.Listen("tcp", a.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.ServerAddr, err)
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("admin API listening", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving admin API: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runner.Run(ctx)
	})

	g.Go(func() error {
		cleanupAudit(ctx, a)
		ticker := time.NewTicker(auditCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cleanupAudit(ctx, a)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down admin API")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down admin API: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func cleanupAudit(ctx context.Context, a *app) {
	if _, err := a.audit.Cleanup(ctx); err != nil {
		a.logger.Error("audit cleanup failed", "error", err)
	}
}
