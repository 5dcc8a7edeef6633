package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/api"
	"github.com/poltergeistlabs/poltergeist/internal/config"
	"github.com/poltergeistlabs/poltergeist/internal/fanout"
	"github.com/poltergeistlabs/poltergeist/internal/metrics"
	"github.com/poltergeistlabs/poltergeist/internal/observ"
	"github.com/poltergeistlabs/poltergeist/internal/realtime"
	"github.com/poltergeistlabs/poltergeist/internal/redis"
	"github.com/poltergeistlabs/poltergeist/internal/store"
	"github.com/poltergeistlabs/poltergeist/internal/tabs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting poltergeist relay daemon",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	database, err := store.New(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := store.NewRepository(database, logger)

	// Redis backs everything shared across daemon restarts and tabs: the
	// dedup ledger, cooldown stamps, and the persisted subscription owner.
	// Unlike a cache, it is load-bearing here, so failing to reach it is
	// fatal rather than a degraded mode.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	cooldown := redis.NewCooldown(redisClient, logger, cfg.ScaryCooldown)
	owners := redis.NewOwnerStore(redisClient, logger)

	// Tab sessions and delivery fanout
	hub := tabs.NewHub(logger)
	sink := fanout.New(hub, repo, logger)

	// Subscription manager over the realtime feed
	feed := realtime.NewPGFeed(database.Pool(), logger)
	manager := realtime.NewManager(feed, owners, sink, realtime.Config{
		KeepaliveInterval: cfg.KeepaliveInterval,
	}, logger)

	managerCtx, managerCancel := context.WithCancel(context.Background())
	defer managerCancel()

	go manager.Run(managerCtx)

	logger.Info("subscription manager started",
		zap.Duration("keepalive_interval", cfg.KeepaliveInterval),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, repo, manager, cooldown, api.Config{
		SharedSecret:      cfg.SharedSecret,
		DefaultStickerURL: cfg.DefaultStickerURL,
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/stickers", handler.SendSticker)
		r.Get("/users", handler.ListUsers)
		r.Get("/assets", handler.ListAssets)

		r.Post("/subscription/start", handler.StartSubscription)
		r.Post("/subscription/stop", handler.StopSubscription)
		r.Get("/subscription/status", handler.SubscriptionStatus)

		r.Get("/secret", handler.SharedSecret)

		// Tab sessions attach here. The upgrade hijacks the connection,
		// so the request timeout and server write timeout stop applying
		// once attached.
		r.Get("/tabs", api.TabSocket(hub, logger))
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop the liveness loop first so it does not reconnect while the
		// server drains. The persisted owner survives for the next start.
		managerCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
