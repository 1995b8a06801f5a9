// Package app wires the stores, matcher, ledger and service from config. It
// is shared by the API server, the auditor worker and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/biometric"
	"github.com/your-org/facesync/internal/config"
	"github.com/your-org/facesync/internal/match"
	"github.com/your-org/facesync/internal/ratelimit"
	"github.com/your-org/facesync/internal/storage"
)

const (
	memorySweepInterval = 10 * time.Minute
	memoryIdleTTL       = 24 * time.Hour
)

type App struct {
	DB         *storage.PostgresStore
	MinIO      *storage.MinIOStore
	Embeddings *storage.EmbeddingStore
	Auditor    *audit.Auditor
	Applier    *audit.Applier
	Ledger     *ratelimit.Ledger
	Service    *biometric.Service

	redis  *redis.Client
	memory *ratelimit.MemoryStore
}

// Open connects to Postgres and MinIO, builds the configured rate limit
// backend and assembles the biometric service. publisher may be nil.
func Open(ctx context.Context, cfg *config.Config, publisher biometric.Publisher) (*App, error) {
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	a := &App{DB: db, MinIO: minioStore}

	a.Embeddings = storage.NewEmbeddingStore(minioStore, storage.EmbeddingStoreOptions{
		Prefix:           cfg.MinIO.Prefix,
		Dimension:        cfg.Biometric.Dimension,
		AlgorithmVersion: cfg.Biometric.AlgorithmVersion,
	})
	a.Auditor = audit.NewAuditor(a.Embeddings, db, db)
	a.Applier = audit.NewApplier(a.Embeddings, db, db)

	store, err := a.ledgerStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = ratelimit.NewLedger(store, cfg.RateLimit.MaxFailures, cfg.RateLimit.Lockout, nil)

	deps := biometric.Deps{
		Store:     a.Embeddings,
		Index:     db,
		Directory: db,
		Matcher:   NewMatcher(cfg.Biometric),
		Auditor:   a.Auditor,
		Ledger:    a.Ledger,
		Attempts:  db,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	a.Service = biometric.NewService(deps, biometric.Options{
		Dimension:    cfg.Biometric.Dimension,
		StoreTimeout: cfg.Biometric.StoreTimeout,
		AuditTimeout: cfg.Audit.Timeout,
	})

	slog.Info("biometric service ready",
		"matcher", cfg.Biometric.Matcher,
		"ratelimit_backend", cfg.RateLimit.Backend,
		"dimension", cfg.Biometric.Dimension,
	)
	return a, nil
}

// NewMatcher returns the matcher selected by cfg.Matcher.
func NewMatcher(cfg config.BiometricConfig) match.Matcher {
	if cfg.Matcher == "hnsw" {
		return match.NewHNSW(cfg.Tolerance, cfg.Dimension)
	}
	return match.NewEngine(cfg.Tolerance, cfg.Dimension)
}

func (a *App) ledgerStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimit.Backend {
	case "memory":
		a.memory = ratelimit.NewMemoryStore()
		return a.memory, nil
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return ratelimit.NewRedisStore(a.redis, cfg.Redis.Prefix), nil
	default:
		return a.DB, nil
	}
}

// SweepLoop evicts idle in-memory attempt records until ctx is cancelled. It
// returns at once for the other backends.
func (a *App) SweepLoop(ctx context.Context) {
	if a.memory == nil {
		return
	}
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.memory.Sweep(now.Add(-memoryIdleTTL)); n > 0 {
				slog.Debug("swept idle attempt records", "count", n)
			}
		}
	}
}

// PingRedis reports the health of the redis backend, nil when unused.
func (a *App) PingRedis(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.DB.Close()
}
