package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facesync/internal/models"
)

const reasonLimiterUnavailable = "rate limiter unavailable"

// CheckRateLimit reports whether origin may attempt a registration or
// verification. If the ledger cannot be read the origin is refused.
func (s *Service) CheckRateLimit(ctx context.Context, origin string) (bool, string) {
	err := s.Guard(ctx, origin)
	if err == nil {
		return true, ""
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return false, rl.Reason
	}
	return false, reasonLimiterUnavailable
}

// Guard returns a *RateLimitedError while origin is blocked.
func (s *Service) Guard(ctx context.Context, origin string) error {
	if s.ledger == nil {
		return nil
	}
	ledgerCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	d, err := s.ledger.Check(ledgerCtx, origin)
	if err != nil {
		slog.Error("rate limit check failed, refusing attempt", "origin", origin, "error", err)
		return &RateLimitedError{Origin: origin, Reason: reasonLimiterUnavailable}
	}
	if !d.Allowed {
		return &RateLimitedError{Origin: origin, Reason: d.Reason, RetryAfter: d.RetryAfter}
	}
	return nil
}

// Unblock clears origin's failure count and any active block.
func (s *Service) Unblock(ctx context.Context, origin string) error {
	if s.ledger == nil {
		return nil
	}
	ledgerCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ledger.Reset(ledgerCtx, origin); err != nil {
		return err
	}
	slog.Info("origin unblocked", "origin", origin)
	return nil
}

// AttemptRecord returns origin's failure counter, or nil if it has none.
func (s *Service) AttemptRecord(ctx context.Context, origin string) (*models.AttemptRecord, error) {
	if s.ledger == nil {
		return nil, nil
	}
	ledgerCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.ledger.Record(ledgerCtx, origin)
}

type Attempt struct {
	Origin     string
	Action     models.AttemptAction
	IdentityID *int64
	Success    bool
	Confidence *float64
	Error      string
	Latency    time.Duration
}

// RecordAttempt appends an AttemptLog entry and updates the origin's ledger:
// a failure counts towards the lockout, a successful verification resets it.
// The ledger is updated even when the log entry cannot be written.
func (s *Service) RecordAttempt(ctx context.Context, a Attempt) (*models.AttemptLog, error) {
	entry := &models.AttemptLog{
		Action:       a.Action,
		IdentityID:   a.IdentityID,
		Success:      a.Success,
		Confidence:   a.Confidence,
		OriginIP:     a.Origin,
		ErrorMessage: a.Error,
		LatencyMS:    a.Latency.Milliseconds(),
	}

	writeCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var logErr error
	if s.attempts != nil {
		if err := s.attempts.InsertAttemptLog(writeCtx, entry); err != nil {
			logErr = fmt.Errorf("record attempt: %w", err)
			slog.Error("failed to write attempt log", "origin", a.Origin, "action", a.Action, "error", err)
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if s.ledger != nil {
		switch {
		case !a.Success:
			if _, err := s.ledger.RecordFailure(writeCtx, a.Origin); err != nil {
				slog.Error("failed to count failed attempt", "origin", a.Origin, "error", err)
			}
		case a.Action == models.AttemptActionVerification:
			if err := s.ledger.Reset(writeCtx, a.Origin); err != nil {
				slog.Error("failed to reset attempts after verification", "origin", a.Origin, "error", err)
			}
		}
	}

	if logErr != nil {
		return nil, logErr
	}

	if s.publisher != nil {
		if err := s.publisher.PublishAttempt(writeCtx, entry); err != nil {
			slog.Warn("failed to publish attempt", "attempt_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}
