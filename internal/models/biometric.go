package models

import "time"

// Embedding is one face descriptor captured for an identity.
type Embedding struct {
	Vector       []float32 `json:"vector"`
	QualityScore float64   `json:"quality_score"`
	CaptureAngle string    `json:"angle"`
	CreatedAt    time.Time `json:"created_at"`
}

// EmbeddingSet is the per-identity document held by the embedding store.
// It is the source of truth for biometric payload.
type EmbeddingSet struct {
	IdentityID       int64       `json:"identity_id"`
	Embeddings       []Embedding `json:"embeddings"`
	IsActive         bool        `json:"is_active"`
	AlgorithmVersion string      `json:"algorithm_version"`
	CreatedAt        time.Time   `json:"created_at"`
	LastUpdated      time.Time   `json:"last_updated"`
}

// Enrolled reports whether the set can take part in matching.
func (s *EmbeddingSet) Enrolled() bool {
	return s != nil && s.IsActive && len(s.Embeddings) > 0
}

// ProfileRecord mirrors an identity's enrollment status in the relational index.
type ProfileRecord struct {
	IdentityID          int64     `json:"identity_id" db:"identity_id"`
	EmbeddingsCount     int       `json:"embeddings_count" db:"embeddings_count"`
	IsActive            bool      `json:"is_active" db:"is_active"`
	ExternalDocumentRef string    `json:"external_document_ref" db:"external_ref"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	LastUpdated         time.Time `json:"last_updated" db:"last_updated"`
}
