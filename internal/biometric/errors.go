package biometric

import (
	"errors"
	"fmt"
	"time"

	"github.com/your-org/facesync/internal/match"
)

var (
	ErrInvalidIdentity      = errors.New("identity is not an active employee")
	ErrInvalidVector        = match.ErrInvalidVector
	ErrNoEmbeddings         = errors.New("no embeddings supplied")
	ErrCriticalStoreFailure = errors.New("critical embedding store failure")
	ErrRateLimited          = errors.New("rate limited")
)

// CriticalStoreError reports that the embedding store rejected or could not
// take a write. It matches ErrCriticalStoreFailure and the underlying cause.
type CriticalStoreError struct {
	IdentityID int64
	Op         string
	Err        error
}

func (e *CriticalStoreError) Error() string {
	return fmt.Sprintf("%s identity %d: %v: %v", e.Op, e.IdentityID, ErrCriticalStoreFailure, e.Err)
}

func (e *CriticalStoreError) Unwrap() []error {
	return []error{ErrCriticalStoreFailure, e.Err}
}

// IndexWriteError is carried in a successful RegistrationResult when the
// profile index could not be updated after the embeddings were stored.
type IndexWriteError struct {
	IdentityID  int64
	DocumentRef string
	Err         error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("profile index write for identity %d (%s): %v", e.IdentityID, e.DocumentRef, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// RateLimitedError is returned while an origin is blocked.
type RateLimitedError struct {
	Origin     string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("origin %s: %s, retry in %s", e.Origin, e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
