package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leafsii/nft-marketplace/internal/api"
	"github.com/leafsii/nft-marketplace/internal/config"
	"github.com/leafsii/nft-marketplace/internal/genesis"
	"github.com/leafsii/nft-marketplace/internal/log"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/metrics"
	"github.com/leafsii/nft-marketplace/internal/notify"
	"github.com/leafsii/nft-marketplace/internal/repository"
	"github.com/leafsii/nft-marketplace/internal/store"
	"github.com/leafsii/nft-marketplace/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting marketplace API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"version", "v1.0.0",
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("nft-marketplace")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Cache falls back to in-memory when MKT_REDIS_ADDR is empty
	cache, err := store.NewCache(cfg.Cache.RedisAddr, log.Named(logger, "cache"), metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		logger.Fatalw("Cache ping failed", "error", err)
	}
	logger.Infow("Cache ready", "in_memory", cache.IsInMemoryMode())

	sinks := []marketplace.Notifier{cache}

	// Optional Postgres event archive
	var archive api.EventHistory
	if cfg.Database.PostgresDSN != "" {
		var sqlDB *sql.DB
		sqlDB, err = repository.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			logger.Fatalw("Failed to open event archive", "error", err)
		}
		defer sqlDB.Close()

		eventArchive := repository.NewEventArchive(sqlDB, log.Named(logger, "archive"))
		archive = eventArchive
		sinks = append(sinks, eventArchive)
		logger.Infow("Event archive enabled")
	}

	// Optional NATS JetStream sink
	if cfg.Events.NATSURL != "" {
		nc, js, err := notify.Connect(cfg.Events.NATSURL)
		if err != nil {
			logger.Fatalw("Failed to connect to NATS", "error", err, "url", cfg.Events.NATSURL)
		}
		defer nc.Drain()

		if err := notify.EnsureStream(ctx, js); err != nil {
			logger.Fatalw("Failed to ensure event stream", "error", err)
		}
		sinks = append(sinks, notify.NewNATSPublisher(js, log.Named(logger, "nats")))
		logger.Infow("NATS event sink enabled", "stream", notify.StreamName)
	}

	// Deploy ledger, registry, on-ramp and engine
	deployment, err := genesis.Deploy(ctx, genesis.ParamsFromConfig(cfg), log.Named(logger, "genesis"),
		marketplace.WithNotifier(notify.NewMulti(sinks...)),
		marketplace.WithMetrics(metricsObj),
	)
	if err != nil {
		logger.Fatalw("Genesis failed", "error", err)
	}

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, cfg.Security.CORSAllowedOrigins, log.Named(logger, "ws"), metricsObj)
	sseHandler := ws.NewSSEHandler(cache, log.Named(logger, "sse"))

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go wsHub.Run(hubCtx)

	// Setup API handler and middleware
	handler := api.NewHandler(api.Services{
		Deployment: deployment,
		Cache:      cache,
		Archive:    archive,
		WSHub:      wsHub,
		SSE:        sseHandler,
	}, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, api.RouteOptions{
		CORSOrigins:       cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:      cfg.Security.RateLimitRPM,
		RequireSignatures: cfg.Security.RequireSignatures,
		Metrics:           metricsHandler,
	})

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
		hubCancel()

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
