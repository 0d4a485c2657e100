// Command transportd wires a transport.Transport pool and exposes its
// aggregate state over HTTP, the way ocx/backend's cmd/server pairs an
// internal engine package with a thin main().
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/transport/internal/config"
	"github.com/ocx/transport/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := config.Get()
	log := slog.Default()

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		log.Info("resolver cache enabled", "addr", cfg.Redis.Addr)
	}

	resolver := transport.NewResolver(log, cache, cfg.Redis.ResolveCache)

	pool, err := transport.New(cfg.Pool.WorkerCount, resolver, log)
	if err != nil {
		log.Error("failed to construct transport pool", "error", err)
		os.Exit(1)
	}

	pool.SetIOCTimeOut(cfg.Pool.IOCTimeout)
	pool.SetMaxInputBufferSize(cfg.Pool.MaxInputBufferSz)
	pool.SetMaxOutputBufferSize(cfg.Pool.MaxOutputBufferSz)
	pool.SetDirectWrite(cfg.Pool.DirectWrite)
	pool.SetTCPNoDelay(cfg.Pool.TCPNoDelay)
	pool.SetLogStats(cfg.Pool.LogStats)

	if !pool.Start() {
		log.Warn("one or more workers failed to start; continuing with the rest")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(pool)

	admin := transport.NewAdminServer(pool)
	router := admin.Router()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: router}

	go func() {
		log.Info("transportd admin surface listening", "addr", cfg.Admin.ListenAddr, "workers", cfg.Pool.WorkerCount)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server exited", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := pool.Close(); err != nil {
		log.Error("error during pool close", "error", err)
	}
}
