package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
)

// ErrStoreUnavailable wraps every failure to reach the embedding store.
// Callers use errors.Is to apply their own fail-safe policy.
var ErrStoreUnavailable = errors.New("embedding store unavailable")

// ObjectStore is the blob API the embedding store is built on. MinIOStore implements it.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

type EmbeddingStoreOptions struct {
	Prefix           string
	Dimension        int
	AlgorithmVersion string
	// ReadConcurrency bounds parallel document reads during full scans.
	ReadConcurrency int
}

// EmbeddingStore keeps one JSON document per identity and is the source of
// truth for embeddings. Writes are last-writer-wins.
type EmbeddingStore struct {
	objects ObjectStore
	opts    EmbeddingStoreOptions
	nowFn   func() time.Time
}

func NewEmbeddingStore(objects ObjectStore, opts EmbeddingStoreOptions) *EmbeddingStore {
	if opts.Prefix == "" {
		opts.Prefix = "embeddings/"
	}
	if !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	if opts.ReadConcurrency <= 0 {
		opts.ReadConcurrency = 8
	}
	return &EmbeddingStore{objects: objects, opts: opts, nowFn: time.Now}
}

// DocumentKey returns the object key that holds identityID's document.
func (s *EmbeddingStore) DocumentKey(identityID int64) string {
	return s.opts.Prefix + strconv.FormatInt(identityID, 10) + ".json"
}

func (s *EmbeddingStore) identityFromKey(key string) (int64, bool) {
	name := strings.TrimPrefix(key, s.opts.Prefix)
	if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Save upserts the full embedding set for identityID and forces it active.
// It returns the document reference.
func (s *EmbeddingStore) Save(ctx context.Context, identityID int64, embeddings []models.Embedding) (string, error) {
	defer observeStore("save", time.Now())

	key := s.DocumentKey(identityID)
	now := s.nowFn().UTC()

	existing, err := s.load(ctx, key, identityID)
	if err != nil && !errors.Is(err, errMalformedDocument) {
		return "", err
	}

	set := &models.EmbeddingSet{
		IdentityID:       identityID,
		IsActive:         true,
		AlgorithmVersion: s.opts.AlgorithmVersion,
		CreatedAt:        now,
		LastUpdated:      now,
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		set.CreatedAt = existing.CreatedAt
	}
	set.Embeddings = make([]models.Embedding, len(embeddings))
	for i, e := range embeddings {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		set.Embeddings[i] = e
	}

	data, err := encodeDocument(set)
	if err != nil {
		return "", fmt.Errorf("encode document for identity %d: %w", identityID, err)
	}
	if err := s.objects.PutObject(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("%w: save identity %d: %v", ErrStoreUnavailable, identityID, err)
	}
	return key, nil
}

// Fetch returns the active embeddings of identityID, or nil when the set is
// absent or inactive.
func (s *EmbeddingStore) Fetch(ctx context.Context, identityID int64) ([]models.Embedding, error) {
	set, err := s.FetchSet(ctx, identityID)
	if err != nil || set == nil || !set.IsActive {
		return nil, err
	}
	return set.Embeddings, nil
}

// FetchSet returns identityID's document whatever its activity, or nil if absent.
func (s *EmbeddingStore) FetchSet(ctx context.Context, identityID int64) (*models.EmbeddingSet, error) {
	defer observeStore("fetch", time.Now())

	set, err := s.load(ctx, s.DocumentKey(identityID), identityID)
	if errors.Is(err, errMalformedDocument) {
		slog.Warn("unreadable embedding document", "identity_id", identityID, "error", err)
		return nil, nil
	}
	return set, err
}

// FetchAllActive scans every document and returns the active sets ordered by
// identity id. Unreadable documents are skipped.
func (s *EmbeddingStore) FetchAllActive(ctx context.Context) ([]models.EmbeddingSet, error) {
	defer observeStore("fetch_all_active", time.Now())

	sets, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.EmbeddingSet, 0, len(sets))
	for _, set := range sets {
		if set.IsActive {
			active = append(active, *set)
		}
	}
	return active, nil
}

// ListIdentities returns the identities whose set is active and non-empty.
func (s *EmbeddingStore) ListIdentities(ctx context.Context) (map[int64]struct{}, error) {
	defer observeStore("list_identities", time.Now())

	sets, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(sets))
	for _, set := range sets {
		if set.Enrolled() {
			ids[set.IdentityID] = struct{}{}
		}
	}
	return ids, nil
}

// Deactivate soft-deletes identityID's set. It reports whether a document was
// found and changed.
func (s *EmbeddingStore) Deactivate(ctx context.Context, identityID int64) (bool, error) {
	defer observeStore("deactivate", time.Now())

	key := s.DocumentKey(identityID)
	set, err := s.load(ctx, key, identityID)
	if err != nil {
		return false, err
	}
	if set == nil || !set.IsActive {
		return false, nil
	}

	set.IsActive = false
	set.LastUpdated = s.nowFn().UTC()
	data, err := encodeDocument(set)
	if err != nil {
		return false, fmt.Errorf("encode document for identity %d: %w", identityID, err)
	}
	if err := s.objects.PutObject(ctx, key, data, "application/json"); err != nil {
		return false, fmt.Errorf("%w: deactivate identity %d: %v", ErrStoreUnavailable, identityID, err)
	}
	return true, nil
}

// Delete removes identityID's document. It reports whether one existed.
func (s *EmbeddingStore) Delete(ctx context.Context, identityID int64) (bool, error) {
	defer observeStore("delete", time.Now())

	key := s.DocumentKey(identityID)
	exists, err := s.objects.ObjectExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: stat identity %d: %v", ErrStoreUnavailable, identityID, err)
	}
	if !exists {
		return false, nil
	}
	if err := s.objects.DeleteObject(ctx, key); err != nil {
		return false, fmt.Errorf("%w: delete identity %d: %v", ErrStoreUnavailable, identityID, err)
	}
	return true, nil
}

func (s *EmbeddingStore) load(ctx context.Context, key string, identityID int64) (*models.EmbeddingSet, error) {
	data, err := s.objects.GetObject(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load identity %d: %v", ErrStoreUnavailable, identityID, err)
	}

	decoded, err := decodeDocument(data, s.opts.Dimension, identityID)
	if err != nil {
		return nil, fmt.Errorf("identity %d: %w", identityID, err)
	}
	if decoded.Dropped > 0 {
		slog.Warn("dropped malformed embeddings",
			"identity_id", identityID,
			"dropped", decoded.Dropped,
			"shape", decoded.Shape.String(),
		)
	}
	return decoded.Set, nil
}

func (s *EmbeddingStore) scan(ctx context.Context) ([]*models.EmbeddingSet, error) {
	keys, err := s.objects.ListObjects(ctx, s.opts.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrStoreUnavailable, err)
	}

	var (
		mu   sync.Mutex
		sets = make([]*models.EmbeddingSet, 0, len(keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ReadConcurrency)

	for _, key := range keys {
		key := key
		id, ok := s.identityFromKey(key)
		if !ok {
			continue
		}
		g.Go(func() error {
			set, err := s.load(gctx, key, id)
			if errors.Is(err, errMalformedDocument) {
				slog.Warn("skipping unreadable embedding document", "key", key, "error", err)
				return nil
			}
			if err != nil {
				return err
			}
			if set == nil {
				return nil
			}
			mu.Lock()
			sets = append(sets, set)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].IdentityID < sets[j].IdentityID })
	return sets, nil
}

func observeStore(op string, start time.Time) {
	observability.StoreOperationDuration.WithLabelValues("embeddings", op).Observe(time.Since(start).Seconds())
}
