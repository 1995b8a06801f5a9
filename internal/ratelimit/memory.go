package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/facesync/internal/models"
)

// MemoryStore keeps attempt records in process. Records are lost on restart
// and are not shared between replicas.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.AttemptRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.AttemptRecord)}
}

func (s *MemoryStore) GetAttemptRecord(_ context.Context, origin string) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[origin]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) IncrementFailures(_ context.Context, origin string, now time.Time, threshold int, lockout time.Duration) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[origin]
	if !ok {
		rec = &models.AttemptRecord{OriginIP: origin}
		s.records[origin] = rec
	}
	applyFailure(rec, now, threshold, lockout)
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ResetAttempts(_ context.Context, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[origin]; ok {
		rec.AttemptsCount = 0
		rec.BlockedUntil = nil
	}
	return nil
}

// Sweep drops records idle since before cutoff that are not blocked.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for origin, rec := range s.records {
		if rec.LastAttemptAt.Before(cutoff) && !rec.BlockedAt(cutoff) {
			delete(s.records, origin)
			removed++
		}
	}
	return removed
}
