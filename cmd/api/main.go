package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/academic-rag/internal/adapters/http"
	"github.com/kirillkom/academic-rag/internal/bootstrap"
	"github.com/kirillkom/academic-rag/internal/config"
	"github.com/kirillkom/academic-rag/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New("academic-rag-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	go func() {
		if err := app.WatchCorpusUpdates(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("corpus_watch_stopped", "error", err)
		}
	}()

	router := httpadapter.NewRouter(
		app.Agent,
		app.Agent,
		app.Catalogs,
		app.Health,
		logger,
		app.Metrics.Handler(),
		httpadapter.RequestIDMiddleware,
		httpadapter.AccessLogMiddleware(logger),
		func(next http.Handler) http.Handler {
			return app.Metrics.Middleware("academic-rag-api", next)
		},
		httpadapter.RateLimitMiddleware(app.Limiter),
	)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown", "error", err)
	}
}
