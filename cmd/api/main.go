package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/facesync/internal/api"
	"github.com/your-org/facesync/internal/api/handlers"
	"github.com/your-org/facesync/internal/api/ws"
	"github.com/your-org/facesync/internal/app"
	"github.com/your-org/facesync/internal/config"
	"github.com/your-org/facesync/internal/observability"
	"github.com/your-org/facesync/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facesync API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	a, err := app.Open(ctx, cfg, producer)
	if err != nil {
		slog.Error("init biometric service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go a.SweepLoop(ctx)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Rebroadcast attempt events via WebSocket
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attempt consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeAttempts(ctx, "api-attempts", hub.BroadcastAttempt); err != nil {
		slog.Warn("start attempt consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		AdminAPIKey: cfg.Server.AdminAPIKey,
		Service:     a.Service,
		Attempts:    a.DB,
		AuditQueue:  producer,
		Hub:         hub,
		Checks: []handlers.Check{
			{Name: "postgres", Probe: a.DB.Ping},
			{Name: "minio", Probe: a.MinIO.Ping},
			{Name: "nats", Probe: func(context.Context) error { return producer.Ping() }},
			{Name: "redis", Probe: a.PingRedis},
		},
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
