package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
)

type Action string

const (
	ActionActivateProfile   Action = "activate_profile"
	ActionDeleteEmbeddings  Action = "delete_embeddings"
	ActionDeactivateProfile Action = "deactivate_profile"
)

// EmbeddingSource is the read side of the embedding store.
type EmbeddingSource interface {
	ListIdentities(ctx context.Context) (map[int64]struct{}, error)
	FetchSet(ctx context.Context, identityID int64) (*models.EmbeddingSet, error)
}

// ProfileSource is the read side of the profile index.
type ProfileSource interface {
	ListActiveProfileIDs(ctx context.Context) ([]int64, error)
	GetProfile(ctx context.Context, identityID int64) (*models.ProfileRecord, error)
}

// IdentityDirectory answers whether an identity is still a valid employee.
type IdentityDirectory interface {
	ExistsActive(ctx context.Context, identityID int64) (bool, error)
	IdentityName(ctx context.Context, identityID int64) (string, error)
}

// Proposal is a suggested repair. Proposals are never executed by the Auditor.
type Proposal struct {
	IdentityID   int64  `json:"identity_id"`
	Action       Action `json:"action"`
	Reason       string `json:"reason"`
	IdentityName string `json:"identity_name,omitempty"`
}

func (p Proposal) String() string {
	return string(p.Action) + " " + strconv.FormatInt(p.IdentityID, 10) + ": " + p.Reason
}

type Report struct {
	GeneratedAt     time.Time  `json:"generated_at"`
	IndexActive     int        `json:"index_active_count"`
	StoreActive     int        `json:"store_active_count"`
	OrphanedInStore []int64    `json:"orphaned_in_store"`
	OrphanedInIndex []int64    `json:"orphaned_in_index"`
	Consistent      bool       `json:"is_consistent"`
	Proposals       []Proposal `json:"proposals"`
}

// Auditor compares the profile index with the embedding store. It only reads.
type Auditor struct {
	store     EmbeddingSource
	index     ProfileSource
	directory IdentityDirectory
	nowFn     func() time.Time
}

func NewAuditor(store EmbeddingSource, index ProfileSource, directory IdentityDirectory) *Auditor {
	return &Auditor{store: store, index: index, directory: directory, nowFn: time.Now}
}

// Consistent is the single consistency rule for one identity: the profile is
// active exactly when the store holds an active, non-empty set.
func Consistent(profile *models.ProfileRecord, set *models.EmbeddingSet) bool {
	profileActive := profile != nil && profile.IsActive
	return profileActive == set.Enrolled()
}

// Audit lists both sides and classifies every divergence. A listing failure
// fails the whole run rather than reporting phantom orphans.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	var (
		indexIDs []int64
		storeIDs map[int64]struct{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := a.index.ListActiveProfileIDs(gctx)
		if err != nil {
			return fmt.Errorf("list active profiles: %w", err)
		}
		indexIDs = ids
		return nil
	})
	g.Go(func() error {
		ids, err := a.store.ListIdentities(gctx)
		if err != nil {
			return fmt.Errorf("list store identities: %w", err)
		}
		storeIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		observability.AuditRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	indexSet := make(map[int64]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		indexSet[id] = struct{}{}
	}

	report := &Report{
		GeneratedAt:     a.nowFn().UTC(),
		IndexActive:     len(indexSet),
		StoreActive:     len(storeIDs),
		OrphanedInStore: difference(storeIDs, indexSet),
		OrphanedInIndex: difference(indexSet, storeIDs),
		Proposals:       []Proposal{},
	}
	report.Consistent = len(report.OrphanedInStore) == 0 && len(report.OrphanedInIndex) == 0

	for _, id := range report.OrphanedInStore {
		p, err := a.classifyStoreOrphan(ctx, id)
		if err != nil {
			observability.AuditRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		report.Proposals = append(report.Proposals, p)
	}
	for _, id := range report.OrphanedInIndex {
		report.Proposals = append(report.Proposals, Proposal{
			IdentityID:   id,
			Action:       ActionDeactivateProfile,
			Reason:       "profile is active but the store holds no active embeddings",
			IdentityName: a.name(ctx, id),
		})
	}

	observability.AuditOrphans.WithLabelValues("store").Set(float64(len(report.OrphanedInStore)))
	observability.AuditOrphans.WithLabelValues("index").Set(float64(len(report.OrphanedInIndex)))
	if report.Consistent {
		observability.AuditRuns.WithLabelValues("consistent").Inc()
	} else {
		observability.AuditRuns.WithLabelValues("inconsistent").Inc()
		slog.Warn("stores are inconsistent",
			"orphaned_in_store", len(report.OrphanedInStore),
			"orphaned_in_index", len(report.OrphanedInIndex),
		)
	}
	return report, nil
}

func (a *Auditor) classifyStoreOrphan(ctx context.Context, id int64) (Proposal, error) {
	valid, err := a.directory.ExistsActive(ctx, id)
	if err != nil {
		return Proposal{}, fmt.Errorf("classify identity %d: %w", id, err)
	}
	if valid {
		return Proposal{
			IdentityID:   id,
			Action:       ActionActivateProfile,
			Reason:       "embeddings exist for an active employee without an active profile",
			IdentityName: a.name(ctx, id),
		}, nil
	}
	return Proposal{
		IdentityID: id,
		Action:     ActionDeleteEmbeddings,
		Reason:     "embeddings reference an unknown or inactive employee",
	}, nil
}

func (a *Auditor) name(ctx context.Context, id int64) string {
	name, err := a.directory.IdentityName(ctx, id)
	if err != nil {
		slog.Debug("identity name lookup failed", "identity_id", id, "error", err)
		return ""
	}
	return name
}

type IndexSide struct {
	Exists          bool      `json:"exists"`
	Active          bool      `json:"is_active"`
	EmbeddingsCount int       `json:"embeddings_count"`
	Ref             string    `json:"external_ref,omitempty"`
	LastUpdated     time.Time `json:"last_updated,omitempty"`
}

type StoreSide struct {
	Exists           bool      `json:"exists"`
	Active           bool      `json:"is_active"`
	EmbeddingsCount  int       `json:"embeddings_count"`
	AlgorithmVersion string    `json:"algorithm_version,omitempty"`
	LastUpdated      time.Time `json:"last_updated,omitempty"`
}

type Status struct {
	IdentityID int64     `json:"identity_id"`
	Index      IndexSide `json:"index_side"`
	Store      StoreSide `json:"store_side"`
	Consistent bool      `json:"is_consistent"`
}

// Status applies the consistency rule to a single identity.
func (a *Auditor) Status(ctx context.Context, identityID int64) (*Status, error) {
	var (
		profile *models.ProfileRecord
		set     *models.EmbeddingSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.index.GetProfile(gctx, identityID)
		if err != nil {
			return fmt.Errorf("get profile %d: %w", identityID, err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		s, err := a.store.FetchSet(gctx, identityID)
		if err != nil {
			return fmt.Errorf("fetch embeddings %d: %w", identityID, err)
		}
		set = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &Status{IdentityID: identityID, Consistent: Consistent(profile, set)}
	if profile != nil {
		st.Index = IndexSide{
			Exists:          true,
			Active:          profile.IsActive,
			EmbeddingsCount: profile.EmbeddingsCount,
			Ref:             profile.ExternalDocumentRef,
			LastUpdated:     profile.LastUpdated,
		}
	}
	if set != nil {
		st.Store = StoreSide{
			Exists:           true,
			Active:           set.IsActive,
			EmbeddingsCount:  len(set.Embeddings),
			AlgorithmVersion: set.AlgorithmVersion,
			LastUpdated:      set.LastUpdated,
		}
	}
	return st, nil
}

func difference(a, b map[int64]struct{}) []int64 {
	out := []int64{}
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
