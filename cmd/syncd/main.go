// Package main provides the Shelfmark sync server. Clients sync their
// offline state through POST /api/sync/push and GET /api/sync/pull and
// hear about other devices over a WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelfmark/shelfmark/backend/cmd/syncd/handlers"
	"github.com/shelfmark/shelfmark/backend/internal/access"
	"github.com/shelfmark/shelfmark/backend/internal/auth"
	"github.com/shelfmark/shelfmark/backend/internal/config"
	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/embedding"
	"github.com/shelfmark/shelfmark/backend/internal/governor"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
	"github.com/shelfmark/shelfmark/backend/internal/syncengine"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, cfg.LogLevel)

	if err := run(cfg); err != nil {
		logging.Error("server exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	registry := db.NewRegistry()
	if err := registry.Verify(database.DB); err != nil {
		return err
	}

	repo := db.NewRepository(database)
	defer repo.Close()

	notifier := embedding.NewQueueNotifier(repo, 256)
	defer notifier.Close()

	resolver := access.NewResolver()
	engine := syncengine.NewEngine(repo, registry, resolver, notifier, cfg.PullPageSize)

	metrics := governor.NewMetrics(prometheus.DefaultRegisterer)
	locks := governor.NewUserLocks(cfg.LockTimeout, cfg.LockTTL)
	throttle := governor.NewThrottle(governor.ThrottleConfig{
		MaxActiveConns:      cfg.MaxActiveConns,
		MaxAvgLatencyMillis: cfg.MaxAvgLatencyMillis,
		MaxErrorRate:        cfg.MaxErrorRate,
		UserRatePerSec:      cfg.UserRatePerSec,
		UserRateBurst:       cfg.UserRateBurst,
	}, metrics)

	cache, err := governor.NewPullCache(cfg.CacheDir, cfg.CacheMaxEntries, cfg.CacheTTL, metrics)
	if err != nil {
		return err
	}
	defer cache.Close()

	stop := make(chan struct{})
	go cache.Run(cfg.CacheEvictInterval, stop)

	verifier := auth.NewStaticVerifier(cfg.AuthTokens)
	syncHandler := handlers.NewSyncHandler(engine, repo, verifier, locks, throttle, cache, metrics)

	wsHub := NewWSHub()
	syncHandler.SetWebSocketHub(wsHub)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync/push", syncHandler.Push)
	mux.HandleFunc("/api/sync/pull", syncHandler.Pull)
	mux.HandleFunc("/api/sync/status", syncHandler.Status)
	mux.HandleFunc("/api/sync/ws", wsHub.ServeWS(verifier))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(); err != nil {
			http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"shelfmark-syncd"}`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("sync server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stop)
		return err
	case sig := <-sigCh:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	close(stop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
