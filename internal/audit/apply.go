package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/facesync/internal/models"
)

// EmbeddingRemover is the write side of the embedding store used by repairs.
type EmbeddingRemover interface {
	EmbeddingSource
	Delete(ctx context.Context, identityID int64) (bool, error)
	DocumentKey(identityID int64) string
}

// ProfileWriter is the write side of the profile index used by repairs.
type ProfileWriter interface {
	ProfileSource
	UpsertProfile(ctx context.Context, identityID int64, count int, ref string, active bool) (*models.ProfileRecord, error)
	DeactivateProfile(ctx context.Context, identityID int64) (bool, error)
}

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type ApplyResult struct {
	Proposal Proposal `json:"proposal"`
	Outcome  Outcome  `json:"outcome"`
	Detail   string   `json:"detail,omitempty"`
}

// Applier executes operator-accepted proposals. Each proposal is re-checked
// against current state first, so applying a stale report is harmless.
type Applier struct {
	store     EmbeddingRemover
	index     ProfileWriter
	directory IdentityDirectory
}

func NewApplier(store EmbeddingRemover, index ProfileWriter, directory IdentityDirectory) *Applier {
	return &Applier{store: store, index: index, directory: directory}
}

func (a *Applier) Apply(ctx context.Context, proposals []Proposal) []ApplyResult {
	results := make([]ApplyResult, 0, len(proposals))
	for _, p := range proposals {
		res := ApplyResult{Proposal: p}
		applied, detail, err := a.applyOne(ctx, p)
		switch {
		case err != nil:
			res.Outcome = OutcomeFailed
			res.Detail = err.Error()
			slog.Error("repair failed", "identity_id", p.IdentityID, "action", p.Action, "error", err)
		case applied:
			res.Outcome = OutcomeApplied
			slog.Info("repair applied", "identity_id", p.IdentityID, "action", p.Action)
		default:
			res.Outcome = OutcomeSkipped
			res.Detail = detail
		}
		results = append(results, res)
	}
	return results
}

func (a *Applier) applyOne(ctx context.Context, p Proposal) (bool, string, error) {
	profile, err := a.index.GetProfile(ctx, p.IdentityID)
	if err != nil {
		return false, "", fmt.Errorf("get profile: %w", err)
	}
	set, err := a.store.FetchSet(ctx, p.IdentityID)
	if err != nil {
		return false, "", fmt.Errorf("fetch embeddings: %w", err)
	}
	if Consistent(profile, set) {
		return false, "already consistent", nil
	}

	switch p.Action {
	case ActionActivateProfile:
		if !set.Enrolled() {
			return false, "store holds no active embeddings", nil
		}
		valid, err := a.directory.ExistsActive(ctx, p.IdentityID)
		if err != nil {
			return false, "", fmt.Errorf("check identity: %w", err)
		}
		if !valid {
			return false, "identity is no longer an active employee", nil
		}
		if _, err := a.index.UpsertProfile(ctx, p.IdentityID, len(set.Embeddings), a.store.DocumentKey(p.IdentityID), true); err != nil {
			return false, "", fmt.Errorf("upsert profile: %w", err)
		}
		return true, "", nil

	case ActionDeleteEmbeddings:
		if !set.Enrolled() {
			return false, "store holds no active embeddings", nil
		}
		valid, err := a.directory.ExistsActive(ctx, p.IdentityID)
		if err != nil {
			return false, "", fmt.Errorf("check identity: %w", err)
		}
		if valid {
			return false, "identity is an active employee again", nil
		}
		if _, err := a.store.Delete(ctx, p.IdentityID); err != nil {
			return false, "", fmt.Errorf("delete embeddings: %w", err)
		}
		return true, "", nil

	case ActionDeactivateProfile:
		if profile == nil || !profile.IsActive {
			return false, "profile is not active", nil
		}
		if _, err := a.index.DeactivateProfile(ctx, p.IdentityID); err != nil {
			return false, "", fmt.Errorf("deactivate profile: %w", err)
		}
		return true, "", nil
	}
	return false, "", fmt.Errorf("unknown action %q", p.Action)
}
