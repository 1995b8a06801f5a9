package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
)

const reasonBlocked = "too many failed attempts"

// Ledger enforces the per-origin failure threshold on top of a Store.
type Ledger struct {
	store     Store
	threshold int
	lockout   time.Duration
	nowFn     func() time.Time
}

// NewLedger constructs a Ledger with default limits when zero values are given.
func NewLedger(store Store, threshold int, lockout time.Duration, nowFn func() time.Time) *Ledger {
	if threshold <= 0 {
		threshold = DefaultMaxFailures
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{store: store, threshold: threshold, lockout: lockout, nowFn: nowFn}
}

// Check reports whether origin may attempt now. It only reads: an elapsed
// block is left in place and the next failure restarts the count at 1.
func (l *Ledger) Check(ctx context.Context, origin string) (Decision, error) {
	if origin == "" {
		return Decision{Allowed: true}, nil
	}
	rec, err := l.store.GetAttemptRecord(ctx, origin)
	if err != nil {
		return Decision{}, fmt.Errorf("check %s: %w", origin, err)
	}
	if rec == nil {
		return Decision{Allowed: true}, nil
	}

	now := l.nowFn()
	if rec.BlockedAt(now) {
		return Decision{
			Allowed:    false,
			Reason:     reasonBlocked,
			Attempts:   rec.AttemptsCount,
			RetryAfter: rec.BlockedUntil.Sub(now),
		}, nil
	}
	if rec.BlockedUntil != nil {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: true, Attempts: rec.AttemptsCount}, nil
}

// RecordFailure counts one failed attempt for origin.
func (l *Ledger) RecordFailure(ctx context.Context, origin string) (*models.AttemptRecord, error) {
	if origin == "" {
		return nil, nil
	}
	rec, err := l.store.IncrementFailures(ctx, origin, l.nowFn().UTC(), l.threshold, l.lockout)
	if err != nil {
		return nil, fmt.Errorf("record failure %s: %w", origin, err)
	}
	if rec.BlockedUntil != nil && rec.AttemptsCount == l.threshold {
		observability.RateLimitBlocks.Inc()
		slog.Warn("origin blocked",
			"origin", origin,
			"attempts", rec.AttemptsCount,
			"blocked_until", rec.BlockedUntil.UTC(),
		)
	}
	return rec, nil
}

// Reset clears origin's failures and any block.
func (l *Ledger) Reset(ctx context.Context, origin string) error {
	if origin == "" {
		return nil
	}
	if err := l.store.ResetAttempts(ctx, origin); err != nil {
		return fmt.Errorf("reset %s: %w", origin, err)
	}
	return nil
}

// Record returns origin's current record, or nil if it has none.
func (l *Ledger) Record(ctx context.Context, origin string) (*models.AttemptRecord, error) {
	return l.store.GetAttemptRecord(ctx, origin)
}

// applyFailure is the transition used by the in-process stores.
func applyFailure(rec *models.AttemptRecord, now time.Time, threshold int, lockout time.Duration) {
	if rec.BlockedUntil != nil && !now.Before(*rec.BlockedUntil) {
		rec.AttemptsCount = 0
		rec.BlockedUntil = nil
	}
	rec.AttemptsCount++
	rec.LastAttemptAt = now
	if rec.BlockedUntil == nil && rec.AttemptsCount >= threshold {
		until := now.Add(lockout)
		rec.BlockedUntil = &until
	}
}
