package dto

import (
	"github.com/google/uuid"
)

type EmbeddingInput struct {
	Vector       []float32 `json:"vector" binding:"required"`
	QualityScore float64   `json:"quality_score"`
	Angle        string    `json:"angle"`
}

type RegisterRequest struct {
	Embeddings []EmbeddingInput `json:"embeddings" binding:"required,min=1,dive"`
}

type ProfileResponse struct {
	IdentityID      int64  `json:"identity_id"`
	EmbeddingsCount int    `json:"embeddings_count"`
	IsActive        bool   `json:"is_active"`
	DocumentRef     string `json:"document_ref"`
	CreatedAt       string `json:"created_at"`
	LastUpdated     string `json:"last_updated"`
}

type RegisterResponse struct {
	Profile ProfileResponse `json:"profile"`
	// Warning is set when the profile index could not be updated; the
	// embeddings were stored and the next audit will flag the identity.
	Warning string `json:"warning,omitempty"`
}

type VerifyRequest struct {
	Vector []float32 `json:"vector" binding:"required"`
}

type VerifyResponse struct {
	Matched    bool     `json:"matched"`
	IdentityID *int64   `json:"identity_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type DeleteResponse struct {
	IdentityID int64  `json:"identity_id"`
	Deleted    bool   `json:"deleted"`
	Error      string `json:"error,omitempty"`
}

type RateLimitedResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

type AuditRequestResponse struct {
	RequestID uuid.UUID `json:"request_id"`
}

// AttemptEvent is pushed to WebSocket clients for every logged attempt.
type AttemptEvent struct {
	ID         uuid.UUID `json:"id"`
	Action     string    `json:"action"`
	IdentityID *int64    `json:"identity_id,omitempty"`
	Success    bool      `json:"success"`
	Confidence *float64  `json:"confidence,omitempty"`
	OriginIP   string    `json:"origin_ip"`
	Error      string    `json:"error,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  string    `json:"created_at"`
}

type AttemptRecordResponse struct {
	OriginIP      string  `json:"origin_ip"`
	AttemptsCount int     `json:"attempts_count"`
	LastAttemptAt string  `json:"last_attempt_at,omitempty"`
	BlockedUntil  *string `json:"blocked_until,omitempty"`
}
