// pouchd runs the offline-first sync layer as a local daemon: it keeps
// the in-memory dataset warm, drains the pending operation queue when
// the remote store is reachable, and exposes metrics and health
// endpoints for the UI process to poll.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/pouch/internal/config"
	"github.com/mmynk/pouch/internal/service"
	"github.com/mmynk/pouch/internal/storage/badgercache"
	"github.com/mmynk/pouch/internal/storage/sqlitequeue"
	"github.com/mmynk/pouch/internal/syncer"
	"github.com/mmynk/pouch/pkg/logging"

	remotestore "github.com/mmynk/pouch/internal/remote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level)
	logger := slog.Default()

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		logger.Error("Failed to create storage dir", "path", cfg.Storage.Dir, "error", err)
		os.Exit(1)
	}

	cache, err := badgercache.Open(badgercache.Config{Path: cfg.CachePath(), Logger: logger})
	if err != nil {
		logger.Error("Failed to open snapshot cache", "path", cfg.CachePath(), "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	queue, err := sqlitequeue.New(cfg.QueuePath(), logger)
	if err != nil {
		logger.Error("Failed to open pending queue", "path", cfg.QueuePath(), "error", err)
		os.Exit(1)
	}
	defer queue.Close()
	logger.Info("Local storage initialized", "dir", cfg.Storage.Dir)

	client := remotestore.New(cfg.Remote.URL, logger)
	checker := syncer.NewChecker(client.Health)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Remote.Identity != "" {
		if err := client.AuthWithPassword(ctx, cfg.Remote.Identity, cfg.Remote.Password); err != nil {
			logger.Warn("Initial authentication failed, continuing offline", "error", err)
		}
	}

	dataCtx, err := service.New(service.Options{
		Remote:    client,
		Queue:     queue,
		Cache:     cache,
		Online:    checker.Online,
		Logger:    logger,
		SaveDelay: cfg.Sync.SaveDelay,
	})
	if err != nil {
		logger.Error("Failed to create data context", "error", err)
		os.Exit(1)
	}
	defer dataCtx.Close()

	dataCtx.Bootstrap(ctx)

	reconciler := syncer.New(queue, client, dataCtx.Refresh, logger)
	watcher := syncer.NewWatcher(checker, cfg.Sync.ProbeInterval, queue, func(ctx context.Context) {
		if err := reconciler.Reconcile(ctx); err != nil {
			logger.Warn("Reconcile failed, queued ops kept", "error", err)
		}
	}, logger)
	go watcher.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := dataCtx.Snapshot()
		pending, _ := queue.Len(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"online":       checker.Online(),
			"pending_ops":  pending,
			"allocations":  len(snap.Allocations),
			"transactions": len(snap.Transactions),
		})
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: loggingMiddleware(mux),
	}

	go func() {
		logger.Info("Daemon endpoints ready", "address", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown failed", "error", err)
	}
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
