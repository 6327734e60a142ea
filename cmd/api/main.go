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

	httpadapter "github.com/kirillkom/evidence-journal/internal/adapters/http"
	"github.com/kirillkom/evidence-journal/internal/bootstrap"
	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/observability/logging"
	"github.com/kirillkom/evidence-journal/internal/observability/metrics"
)

func main() {
	if err := config.LoadDotEnv(""); err != nil {
		slog.Warn("env_file_not_loaded", "error", err)
	}
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api")
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(
		cfg,
		app.SubmitUC,
		app.QueryUC,
		app.Queue,
		app.Queue,
		app.Queue,
		httpadapter.WithMetrics(metrics.NewHTTPServerMetrics("api")),
		httpadapter.WithHealth(app.Health),
	).Handler()
	if err != nil {
		slog.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api_listening", "addr", server.Addr, "backend", cfg.JournalBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownGraceTime)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Without a broker nothing else will see submitted events.
	if app.InProcess() {
		g.Go(func() error {
			return app.RunAssessors(gctx, cfg.AssessConcurrency)
		})
		g.Go(func() error {
			return app.Recovery.Run(gctx, cfg.RecoveryInterval, cfg.RecoveryStaleAfter, cfg.RecoveryBatchSize)
		})
		g.Go(func() error {
			app.Rules.Watch(gctx, cfg.RulesReloadInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("api_stopped", "error", err)
		os.Exit(1)
	}
}
