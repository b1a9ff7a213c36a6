package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobinsight/discovery-service/internal/api"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the cron sweeps and the trigger listener",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	// ── Scheduler ────────────────────────────────────────────────────────────
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	defer a.sched.Stop()
	for _, s := range a.sched.Schedule() {
		logger.Info("sweep scheduled", zap.String("sweep", s.Name), zap.Time("next", s.Next))
	}

	// Background tasks end with ctx; their failures are logged, not fatal.
	var bg errgroup.Group
	defer func() {
		cancel()
		_ = bg.Wait()
	}()

	if a.rdb != nil {
		bg.Go(func() error {
			if err := a.sched.SubscribeTriggers(ctx, a.rdb); err != nil {
				logger.Error("trigger listener stopped", zap.Error(err))
			}
			return nil
		})
	}
	if len(cfg.SeedKeywords) > 0 {
		bg.Go(func() error {
			for _, o := range a.cache.Seed(ctx, cfg.SeedKeywords, cfg.QueueResultLimit) {
				if o.Err == nil && !o.Skipped {
					logger.Info("keyword seeded",
						zap.String(logging.FieldKeyword, o.Keyword),
						zap.Int(logging.FieldCount, len(o.Result.Jobs)))
				}
			}
			return nil
		})
	}
	if cfg.RunOnStart {
		bg.Go(func() error {
			a.sched.RunSweep(scheduler.Sweep{Name: "startup", Batch: cfg.DailyBatch})
			return nil
		})
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	h := api.NewHandler(api.Deps{
		Jobs:     a.cache,
		Keywords: a.registry,
		Queue:    a.queue,
		Trigger:  a.sched,
	}, version, logger)
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     api.WithRequestLogging(mux, logger),
		ReadTimeout: 10 * time.Second,
		// A cold keyword waits on every source before it is answered.
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("version", version), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}
