package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/config"
	"github.com/park285/dicey-decisions/internal/httpapi"
	"github.com/park285/dicey-decisions/internal/metrics"
	"github.com/park285/dicey-decisions/internal/msgcat"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/realtime"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"github.com/park285/dicey-decisions/internal/tiebreak"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	octx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := roomstore.Open(octx, cfg.RedisURL, roomstore.WithTTL(cfg.RoomTTL))
	cancel()
	if err != nil {
		logger.Fatal("redis_connect_error", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	svcOpts := []results.Option{
		results.WithResolver(tiebreak.NewResolver(store)),
		results.WithMetrics(rec),
	}
	feed := realtime.NewHandler(store, realtime.WithOrigins(cfg.WSOrigins), realtime.WithMetrics(rec))
	apiOpts := []httpapi.Option{
		httpapi.WithFeed(feed),
		httpapi.WithMetrics(rec),
		httpapi.WithMessages(messages),
		httpapi.WithRateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		httpapi.WithCORS(cfg.WSOrigins),
	}

	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
		err = repo.EnsureSchema(sctx)
		scancel()
		if err != nil {
			logger.Fatal("archive_schema_error", zap.Error(err))
		}
		svcOpts = append(svcOpts, results.WithArchive(repo))
		apiOpts = append(apiOpts, httpapi.WithOutcomes(repo))
		logger.Info("archive_enabled")
	}

	api := httpapi.New(store, results.NewService(store, svcOpts...), apiOpts...)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.Duration("room_ttl", cfg.RoomTTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http_serve_error", zap.Error(err))
	}

	logger.Info("shutdown_start")
	feed.Close()
	shctx, shcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shcancel()
	if err := srv.Shutdown(shctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	logger.Info("shutdown_done")
}
