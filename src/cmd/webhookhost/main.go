// Command webhookhost runs the webhook registry, queue and dispatcher as a
// long-lived process: subscribers register webhooks through the admin CLI
// (or directly against the shared database), and this process drains the
// retry queue and performs deliveries until signaled to stop.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferriqa/webhooks/src/internal/config"
	"github.com/ferriqa/webhooks/src/internal/database"
	"github.com/ferriqa/webhooks/src/internal/webhook"
	"github.com/ferriqa/webhooks/src/pkg/utils"
	"github.com/go-redis/redis/v8"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := utils.NewLoggerWithLevel(cfg.GetString("log.level"))

	db, err := database.Initialize(cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := database.MigrateDB(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	registry := webhook.NewRegistry(db, logger)
	history := webhook.NewHistoryStore(db)
	deliverer := webhook.NewDeliverer()

	queue := webhook.NewQueue(logger)
	queue.SetMaxConcurrent(cfg.GetInt("webhooks.max_concurrent"))
	queue.SetTickInterval(time.Duration(cfg.GetInt("webhooks.tick_interval_ms")) * time.Millisecond)
	queue.SetRetryPolicy(webhook.RetryPolicy{
		InitialDelayMs:    int64(cfg.GetInt("webhooks.initial_delay_ms")),
		BackoffMultiplier: cfg.GetFloat64("webhooks.backoff_multiplier"),
	})

	dispatcherOpts := buildDispatcherOptions(cfg, logger)

	var subCache *webhook.SubscriptionCache
	if cfg.GetBool("cache.enabled") {
		subCache = webhook.NewSubscriptionCache(registry, time.Duration(cfg.GetInt("cache.ttl_seconds"))*time.Second)
		if cfg.GetString("cache.backend") == "redis" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.GetString("redis.addr"),
				Password: cfg.GetString("redis.password"),
				DB:       cfg.GetInt("redis.db"),
			})
			subCache = subCache.WithRedis(client)
		}
		dispatcherOpts = append(dispatcherOpts, webhook.WithCache(subCache))
	}

	dispatcher := webhook.NewDispatcher(registry, queue, deliverer, history, logger, dispatcherOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)

	addr := cfg.GetString("server.listen_addr")
	if addr == "" {
		addr = ":8089"
	}
	srv := &http.Server{Addr: addr, Handler: dispatchHandler(dispatcher, logger)}
	go func() {
		logger.Info("listening for dispatch triggers", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	logger.Info("webhook host started",
		"max_concurrent", cfg.GetInt("webhooks.max_concurrent"),
		"database_type", cfg.GetString("database.type"),
	)

	<-ctx.Done()
	logger.Info("shutting down, no new deliveries will start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	queue.Stop()
	logger.Info("webhook host stopped")
}

// dispatchHandler exposes a single trigger endpoint: callers that produce
// domain events (the host application embedding this subsystem) POST the
// event name and payload here, and the dispatcher fans it out to every
// active subscriber. This is intentionally the only route this process
// serves, so it stays on net/http rather than pulling in a routing library.
func dispatchHandler(dispatcher *webhook.Dispatcher, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Event string      `json:"event"`
			Data  interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Event == "" {
			http.Error(w, "event is required", http.StatusBadRequest)
			return
		}
		queued, err := dispatcher.Dispatch(r.Context(), req.Event, req.Data, nil)
		if err != nil {
			logger.Error("dispatch failed", "event", req.Event, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"queued": queued})
	})
	return mux
}

func buildDispatcherOptions(cfg interface {
	GetBool(string) bool
	GetInt(string) int
}, logger *slog.Logger) []webhook.DispatcherOption {
	var opts []webhook.DispatcherOption

	if cfg.GetBool("ratelimit.enabled") {
		opts = append(opts, webhook.WithRateLimiter(webhook.NewRateLimiter()))
	}

	if cfg.GetBool("circuitbreaker.enabled") {
		cbConfig := webhook.CircuitBreakerConfig{
			FailureThreshold: cfg.GetInt("circuitbreaker.failure_threshold"),
			RecoveryTimeout:  time.Duration(cfg.GetInt("circuitbreaker.recovery_timeout_seconds")) * time.Second,
			SuccessThreshold: cfg.GetInt("circuitbreaker.success_threshold"),
		}
		opts = append(opts, webhook.WithCircuitBreaker(webhook.NewCircuitBreaker(cbConfig)))
	}

	opts = append(opts, webhook.WithMetrics(webhook.NewMetrics()))
	logger.Debug("dispatcher options assembled", "count", len(opts))
	return opts
}
