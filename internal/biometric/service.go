package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/match"
	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
	"github.com/your-org/facesync/internal/ratelimit"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultAuditTimeout = 2 * time.Minute
)

// EmbeddingStore is the source of truth for embeddings.
type EmbeddingStore interface {
	Save(ctx context.Context, identityID int64, embeddings []models.Embedding) (string, error)
	Fetch(ctx context.Context, identityID int64) ([]models.Embedding, error)
	FetchAllActive(ctx context.Context) ([]models.EmbeddingSet, error)
	Deactivate(ctx context.Context, identityID int64) (bool, error)
	Delete(ctx context.Context, identityID int64) (bool, error)
}

// ProfileIndex is the relational mirror of enrollment status.
type ProfileIndex interface {
	GetProfile(ctx context.Context, identityID int64) (*models.ProfileRecord, error)
	UpsertProfile(ctx context.Context, identityID int64, count int, ref string, active bool) (*models.ProfileRecord, error)
	DeactivateProfile(ctx context.Context, identityID int64) (bool, error)
}

type IdentityDirectory interface {
	ExistsActive(ctx context.Context, identityID int64) (bool, error)
}

type Auditor interface {
	Audit(ctx context.Context) (*audit.Report, error)
	Status(ctx context.Context, identityID int64) (*audit.Status, error)
}

type AttemptWriter interface {
	InsertAttemptLog(ctx context.Context, entry *models.AttemptLog) error
}

// Publisher receives every attempt after it is logged. Delivery is best-effort.
type Publisher interface {
	PublishAttempt(ctx context.Context, entry *models.AttemptLog) error
}

type Deps struct {
	Store     EmbeddingStore
	Index     ProfileIndex
	Directory IdentityDirectory
	Matcher   match.Matcher
	Auditor   Auditor
	Ledger    *ratelimit.Ledger
	Attempts  AttemptWriter
	Publisher Publisher
}

type Options struct {
	Dimension    int
	StoreTimeout time.Duration
	// AuditTimeout bounds a full audit, which reads every document.
	AuditTimeout time.Duration
}

// Service is the registration, verification and deletion workflow over the
// embedding store and the profile index.
type Service struct {
	store     EmbeddingStore
	index     ProfileIndex
	directory IdentityDirectory
	matcher   match.Matcher
	auditor   Auditor
	ledger    *ratelimit.Ledger
	attempts  AttemptWriter
	publisher Publisher

	dimension    int
	storeTimeout time.Duration
	auditTimeout time.Duration
	locks        *identityLocker
}

func NewService(deps Deps, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = defaultAuditTimeout
	}
	return &Service{
		store:        deps.Store,
		index:        deps.Index,
		directory:    deps.Directory,
		matcher:      deps.Matcher,
		auditor:      deps.Auditor,
		ledger:       deps.Ledger,
		attempts:     deps.Attempts,
		publisher:    deps.Publisher,
		dimension:    opts.Dimension,
		storeTimeout: opts.StoreTimeout,
		auditTimeout: opts.AuditTimeout,
		locks:        newIdentityLocker(),
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// --- Registration ---

type RegistrationResult struct {
	Profile     *models.ProfileRecord
	DocumentRef string
	// IndexWarning is set when the embeddings were stored but the profile
	// index was not updated. The registration still succeeded.
	IndexWarning *IndexWriteError
}

// Register stores the embeddings for identityID, replacing any previous set,
// then mirrors the result into the profile index. Only an embedding store
// failure fails the call.
func (s *Service) Register(ctx context.Context, identityID int64, embeddings []models.Embedding) (*RegistrationResult, error) {
	if err := s.validateEmbeddings(embeddings); err != nil {
		observability.Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	unlock := s.locks.Lock(identityID)
	defer unlock()

	lookupCtx, cancel := s.withTimeout(ctx)
	ok, err := s.directory.ExistsActive(lookupCtx, identityID)
	cancel()
	if err != nil {
		observability.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("lookup identity %d: %w", identityID, err)
	}
	if !ok {
		observability.Registrations.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %d", ErrInvalidIdentity, identityID)
	}

	storeCtx, cancel := s.withTimeout(ctx)
	ref, err := s.store.Save(storeCtx, identityID, embeddings)
	cancel()
	if err != nil {
		observability.Registrations.WithLabelValues("critical").Inc()
		observability.Critical(ctx, "embedding store write failed, registration aborted",
			"identity_id", identityID,
			"operation", "save",
			"error", err,
		)
		return nil, &CriticalStoreError{IdentityID: identityID, Op: "save", Err: err}
	}

	result := &RegistrationResult{DocumentRef: ref}

	indexCtx, cancel := s.withTimeout(ctx)
	profile, err := s.index.UpsertProfile(indexCtx, identityID, len(embeddings), ref, true)
	cancel()
	if err != nil {
		observability.Registrations.WithLabelValues("index_degraded").Inc()
		slog.Error("profile index write failed after embeddings were stored",
			"identity_id", identityID,
			"document_ref", ref,
			"error", err,
		)
		now := time.Now().UTC()
		result.IndexWarning = &IndexWriteError{IdentityID: identityID, DocumentRef: ref, Err: err}
		result.Profile = &models.ProfileRecord{
			IdentityID:          identityID,
			EmbeddingsCount:     len(embeddings),
			IsActive:            true,
			ExternalDocumentRef: ref,
			CreatedAt:           now,
			LastUpdated:         now,
		}
		return result, nil
	}

	observability.Registrations.WithLabelValues("ok").Inc()
	slog.Info("identity registered", "identity_id", identityID, "embeddings", len(embeddings))
	result.Profile = profile
	return result, nil
}

func (s *Service) validateEmbeddings(embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return ErrNoEmbeddings
	}
	for i, e := range embeddings {
		if len(e.Vector) == 0 || (s.dimension > 0 && len(e.Vector) != s.dimension) {
			return fmt.Errorf("%w: embedding %d has %d dimensions, want %d", ErrInvalidVector, i, len(e.Vector), s.dimension)
		}
	}
	return nil
}

// --- Verification ---

// Verify returns the best-matching identity for probe, or nil. Store and
// matcher failures also yield nil; only a malformed probe is an error.
func (s *Service) Verify(ctx context.Context, probe []float32) (*match.Match, error) {
	if len(probe) == 0 || (s.dimension > 0 && len(probe) != s.dimension) {
		observability.Verifications.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidVector, len(probe), s.dimension)
	}

	storeCtx, cancel := s.withTimeout(ctx)
	candidates, err := s.store.FetchAllActive(storeCtx)
	cancel()
	if err != nil {
		observability.Verifications.WithLabelValues("error").Inc()
		slog.Error("verification could not read embeddings", "error", err)
		return nil, nil
	}

	m, err := s.matcher.FindBestMatch(probe, candidates)
	if err != nil {
		if errors.Is(err, ErrInvalidVector) {
			observability.Verifications.WithLabelValues("invalid").Inc()
			return nil, err
		}
		observability.Verifications.WithLabelValues("error").Inc()
		slog.Error("matcher failed", "error", err)
		return nil, nil
	}
	if m == nil {
		observability.Verifications.WithLabelValues("no_match").Inc()
		return nil, nil
	}

	indexCtx, cancel := s.withTimeout(ctx)
	profile, err := s.index.GetProfile(indexCtx, m.IdentityID)
	cancel()
	switch {
	case err != nil:
		slog.Warn("profile index unavailable during verification, trusting embedding store",
			"identity_id", m.IdentityID, "error", err)
	case profile == nil:
		slog.Warn("matched identity has no profile", "identity_id", m.IdentityID)
	case !profile.IsActive:
		observability.Verifications.WithLabelValues("rejected").Inc()
		slog.Warn("matched identity has an inactive profile, rejecting", "identity_id", m.IdentityID)
		return nil, nil
	}

	observability.Verifications.WithLabelValues("matched").Inc()
	return m, nil
}

// --- Deletion ---

// Delete soft-deletes identityID: the embedding set is deactivated and the
// profile zeroed. The index is updated even when the store step fails; the
// result is true only if both steps succeed.
func (s *Service) Delete(ctx context.Context, identityID int64) (bool, error) {
	return s.remove(ctx, identityID, "deactivate", s.store.Deactivate)
}

// Purge is Delete with the embedding document removed outright.
func (s *Service) Purge(ctx context.Context, identityID int64) (bool, error) {
	return s.remove(ctx, identityID, "delete", s.store.Delete)
}

func (s *Service) remove(ctx context.Context, identityID int64, op string, storeOp func(context.Context, int64) (bool, error)) (bool, error) {
	unlock := s.locks.Lock(identityID)
	defer unlock()

	var storeErr, indexErr error

	storeCtx, cancel := s.withTimeout(ctx)
	changed, err := storeOp(storeCtx, identityID)
	cancel()
	if err != nil {
		storeErr = fmt.Errorf("embedding store %s identity %d: %w", op, identityID, err)
		slog.Error("embedding store removal failed", "identity_id", identityID, "operation", op, "error", err)
	} else if !changed {
		slog.Info("no embedding set to remove", "identity_id", identityID, "operation", op)
	}

	indexCtx, cancel := s.withTimeout(ctx)
	_, err = s.index.DeactivateProfile(indexCtx, identityID)
	cancel()
	if err != nil {
		indexErr = fmt.Errorf("profile index deactivate identity %d: %w", identityID, err)
		slog.Error("profile index removal failed", "identity_id", identityID, "error", err)
	}

	if err := errors.Join(storeErr, indexErr); err != nil {
		return false, err
	}
	slog.Info("identity removed", "identity_id", identityID, "operation", op)
	return true, nil
}

// --- Consistency ---

// Status is bounded by the store timeout; Audit scans every document and is
// bounded by the audit timeout.
func (s *Service) Status(ctx context.Context, identityID int64) (*audit.Status, error) {
	statusCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.auditor.Status(statusCtx, identityID)
}

func (s *Service) Audit(ctx context.Context) (*audit.Report, error) {
	auditCtx, cancel := context.WithTimeout(ctx, s.auditTimeout)
	defer cancel()
	return s.auditor.Audit(auditCtx)
}
