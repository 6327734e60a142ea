package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/evidence-journal/internal/bootstrap"
	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/observability/logging"
)

func main() {
	if err := config.LoadDotEnv(""); err != nil {
		slog.Warn("env_file_not_loaded", "error", err)
	}
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker")
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", app.Metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("worker_subscribed",
			"subject", cfg.NATSSubmittedSubject,
			"group", cfg.NATSAssessorGroup,
			"concurrency", cfg.AssessConcurrency,
		)
		return app.RunAssessors(gctx, cfg.AssessConcurrency)
	})
	g.Go(func() error {
		return app.Recovery.Run(gctx, cfg.RecoveryInterval, cfg.RecoveryStaleAfter, cfg.RecoveryBatchSize)
	})
	g.Go(func() error {
		app.Rules.Watch(gctx, cfg.RulesReloadInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker_stopped", "error", err)
		os.Exit(1)
	}
}
