package ratelimit

import (
	"context"
	"time"

	"github.com/your-org/facesync/internal/models"
)

const (
	DefaultMaxFailures = 5
	DefaultLockout     = 5 * time.Minute
)

// Store persists one AttemptRecord per origin. IncrementFailures must be
// atomic per origin: an elapsed block restarts the count at 1, an active
// block is kept as is, and reaching threshold sets blocked_until to
// now+lockout.
type Store interface {
	GetAttemptRecord(ctx context.Context, origin string) (*models.AttemptRecord, error)
	IncrementFailures(ctx context.Context, origin string, now time.Time, threshold int, lockout time.Duration) (*models.AttemptRecord, error)
	ResetAttempts(ctx context.Context, origin string) error
}

// Decision describes the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Reason     string
	Attempts   int
	RetryAfter time.Duration
}
