package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hnrq/hls-proxy/internal/cache"
	"github.com/hnrq/hls-proxy/internal/config"
	"github.com/hnrq/hls-proxy/internal/guard"
	"github.com/hnrq/hls-proxy/internal/logger"
	"github.com/hnrq/hls-proxy/internal/metrics"
	"github.com/hnrq/hls-proxy/internal/ratelimit"
	"github.com/hnrq/hls-proxy/internal/server"
	"github.com/hnrq/hls-proxy/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Path, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("Fatal error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	originGuard := guard.New(cfg.Upstream.ResolveGuard)
	fetchOpts := upstream.Options{
		Timeout:      cfg.Upstream.Timeout,
		UserAgent:    cfg.Upstream.UserAgent,
		MaxRedirects: cfg.Upstream.MaxRedirects,
		Guard:        originGuard,
		DialControl:  originGuard.Control(),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	limiter, trackedClients, closeFn, err := initLimiter(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to init rate limiter: %w", err)
	}
	defer closeFn()

	playlists, err := cache.New(cfg.Server.PlaylistCache, 0)
	if err != nil {
		return err
	}
	defer playlists.Close()

	srv := server.New(server.Options{
		PublicBaseURL:    cfg.Server.PublicBaseURL,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		MaxPlaylistBytes: cfg.Upstream.MaxPlaylistBytes,
		SegmentIdle:      cfg.Upstream.Timeout,
		TrustedProxies:   cfg.Server.TrustedProxies,
	}, server.Deps{
		Limiter:  limiter,
		Guard:    originGuard,
		Fetcher:  upstream.New(fetchOpts),
		Cache:    playlists,
		Metrics:  metrics.New(reg, trackedClients),
		Gatherer: reg,
		Logger:   lg,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(lg),
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("Server running",
			zap.String("port", cfg.Server.Port),
			zap.String("rate_limit_store", cfg.RateLimit.Store),
			zap.Strings("allowed_origins", cfg.Server.AllowedOrigins),
		)
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		lg.Info("Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("Graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// initLimiter returns the configured limiter, an optional tracked-clients
// gauge source and a close func.
func initLimiter(ctx context.Context, cfg config.Config, lg *zap.Logger) (ratelimit.Limiter, func() float64, func(), error) {
	opts := ratelimit.Options{
		Window:        cfg.RateLimit.Window,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		MaxClients:    cfg.RateLimit.MaxClients,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}

	switch cfg.RateLimit.Store {
	case "redis":
		rw, err := ratelimit.NewRedisWindow(ratelimit.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		return rw, nil, func() {
			if err := rw.Close(); err != nil {
				lg.Warn("Failed to close redis limiter", zap.Error(err))
			}
		}, nil
	default:
		sw := ratelimit.NewSlidingWindow(opts, lg)
		go sw.Run(ctx)
		return sw, func() float64 { return float64(sw.Len()) }, func() {}, nil
	}
}
