package models

import (
	"time"

	"github.com/google/uuid"
)

type AttemptAction string

const (
	AttemptActionRegistration AttemptAction = "registration"
	AttemptActionVerification AttemptAction = "verification"
)

// AttemptRecord is the per-origin failure counter behind the rate limiter.
type AttemptRecord struct {
	OriginIP      string     `json:"origin_ip" db:"origin_ip"`
	AttemptsCount int        `json:"attempts_count" db:"attempts_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at" db:"last_attempt_at"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty" db:"blocked_until"`
}

// BlockedAt reports whether the origin is locked out at the given instant.
func (r *AttemptRecord) BlockedAt(now time.Time) bool {
	return r != nil && r.BlockedUntil != nil && now.Before(*r.BlockedUntil)
}

// AttemptLog is an append-only audit entry for one registration or verification attempt.
type AttemptLog struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Action       AttemptAction `json:"action" db:"action"`
	IdentityID   *int64        `json:"identity_id,omitempty" db:"identity_id"`
	Success      bool          `json:"success" db:"success"`
	Confidence   *float64      `json:"confidence,omitempty" db:"confidence"`
	OriginIP     string        `json:"origin_ip" db:"origin_ip"`
	ErrorMessage string        `json:"error_message,omitempty" db:"error_message"`
	LatencyMS    int64         `json:"latency_ms" db:"latency_ms"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}
