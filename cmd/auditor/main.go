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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facesync/internal/app"
	"github.com/your-org/facesync/internal/config"
	"github.com/your-org/facesync/internal/observability"
	"github.com/your-org/facesync/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	workers := flag.Int("workers", 1, "concurrent on-demand audits")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facesync auditor", "interval", cfg.Audit.Interval.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		slog.Error("init stores", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	run := func(ctx context.Context, requestID *uuid.UUID) error {
		report, err := a.Service.Audit(ctx)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}

		attrs := []any{
			"consistent", report.Consistent,
			"orphaned_in_store", len(report.OrphanedInStore),
			"orphaned_in_index", len(report.OrphanedInIndex),
			"proposals", len(report.Proposals),
		}
		if requestID != nil {
			attrs = append(attrs, "request_id", requestID.String())
		}
		if report.Consistent {
			slog.Info("audit complete", attrs...)
		} else {
			slog.Warn("audit found divergence", attrs...)
			for _, p := range report.Proposals {
				slog.Warn("proposed repair", "identity_id", p.IdentityID, "action", p.Action, "reason", p.Reason)
			}
		}

		if err := producer.PublishAuditReport(ctx, requestID, report); err != nil {
			slog.Error("publish audit report", "error", err)
		}
		return nil
	}

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeAuditRequests(ctx, "auditors", func(ctx context.Context, req queue.AuditRequest) error {
		slog.Info("audit requested", "request_id", req.RequestID, "requested_by", req.RequestedBy)
		return run(ctx, &req.RequestID)
	}, *workers)
	if err != nil {
		slog.Error("start audit request consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("auditor metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodic audits
	go func() {
		if err := run(ctx, nil); err != nil {
			slog.Error("initial audit failed", "error", err)
		}
		ticker := time.NewTicker(cfg.Audit.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := run(ctx, nil); err != nil {
					slog.Error("scheduled audit failed", "error", err)
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down auditor...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("auditor stopped")
}
