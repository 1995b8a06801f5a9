package biometric

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/match"
	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/ratelimit"
	"github.com/your-org/facesync/internal/storage"
)

// --- fakes ---

var errOutage = errors.New("connection refused")

type memObjects struct {
	mu         sync.Mutex
	objects    map[string][]byte
	down       bool
	failDelete bool
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errOutage
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errOutage
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memObjects) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, errOutage
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down || m.failDelete {
		return errOutage
	}
	delete(m.objects, key)
	return nil
}

func (m *memObjects) ListObjects(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errOutage
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type memIndex struct {
	mu         sync.Mutex
	profiles   map[int64]*models.ProfileRecord
	failWrites bool
	failReads  bool
}

func (f *memIndex) GetProfile(_ context.Context, id int64) (*models.ProfileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errOutage
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *memIndex) UpsertProfile(_ context.Context, id int64, count int, ref string, active bool) (*models.ProfileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return nil, errOutage
	}
	now := time.Now().UTC()
	p, ok := f.profiles[id]
	if !ok {
		p = &models.ProfileRecord{IdentityID: id, CreatedAt: now}
		f.profiles[id] = p
	}
	p.EmbeddingsCount = count
	p.ExternalDocumentRef = ref
	p.IsActive = active
	p.LastUpdated = now
	cp := *p
	return &cp, nil
}

func (f *memIndex) DeactivateProfile(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return false, errOutage
	}
	p, ok := f.profiles[id]
	if !ok {
		return false, nil
	}
	p.IsActive = false
	p.EmbeddingsCount = 0
	return true, nil
}

func (f *memIndex) ListActiveProfileIDs(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errOutage
	}
	var ids []int64
	for id, p := range f.profiles {
		if p.IsActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type directory map[int64]bool

func (d directory) ExistsActive(_ context.Context, id int64) (bool, error) { return d[id], nil }

func (d directory) IdentityName(context.Context, int64) (string, error) { return "", nil }

type memAttempts struct {
	mu      sync.Mutex
	entries []models.AttemptLog
	down    bool
}

func (m *memAttempts) InsertAttemptLog(_ context.Context, e *models.AttemptLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errOutage
	}
	e.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, *e)
	return nil
}

// hangingObjects blocks every call until the context is done.
type hangingObjects struct{}

func (hangingObjects) PutObject(ctx context.Context, _ string, _ []byte, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingObjects) GetObject(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingObjects) ObjectExists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (hangingObjects) DeleteObject(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingObjects) ListObjects(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []*models.AttemptLog
}

func (p *recordingPublisher) PublishAttempt(_ context.Context, e *models.AttemptLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, e)
	return nil
}

type harness struct {
	svc       *Service
	objects   *memObjects
	store     *storage.EmbeddingStore
	index     *memIndex
	attempts  *memAttempts
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	objects := &memObjects{objects: map[string][]byte{}}
	store := storage.NewEmbeddingStore(objects, storage.EmbeddingStoreOptions{Dimension: 3, AlgorithmVersion: "test"})
	index := &memIndex{profiles: map[int64]*models.ProfileRecord{}}
	dir := directory{1: true, 2: true, 42: true}
	attempts := &memAttempts{}
	pub := &recordingPublisher{}

	svc := NewService(Deps{
		Store:     store,
		Index:     index,
		Directory: dir,
		Matcher:   match.NewEngine(0.4, 3),
		Auditor:   audit.NewAuditor(store, index, dir),
		Ledger:    ratelimit.NewLedger(ratelimit.NewMemoryStore(), 5, 5*time.Minute, nil),
		Attempts:  attempts,
		Publisher: pub,
	}, Options{Dimension: 3, StoreTimeout: time.Second})

	return &harness{svc: svc, objects: objects, store: store, index: index, attempts: attempts, publisher: pub}
}

func embs(vectors ...[]float32) []models.Embedding {
	out := make([]models.Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = models.Embedding{Vector: v, QualityScore: 0.9, CaptureAngle: "front"}
	}
	return out
}

// --- registration ---

func TestRegister_ReRegistrationReplaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Register(ctx, 1, embs([]float32{1, 0, 0}, []float32{0, 1, 0}, []float32{0, 0, 1}))
	require.NoError(t, err)

	e2 := embs([]float32{0.5, 0.5, 0})
	res, err := h.svc.Register(ctx, 1, e2)
	require.NoError(t, err)
	assert.Nil(t, res.IndexWarning)
	assert.Equal(t, 1, res.Profile.EmbeddingsCount)

	keys, err := h.objects.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"embeddings/1.json"}, keys)

	got, err := h.store.Fetch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e2[0].Vector, got[0].Vector)

	assert.Len(t, h.index.profiles, 1)
	assert.Equal(t, 1, h.index.profiles[1].EmbeddingsCount)
}

func TestRegister_StoreOutageWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.objects.down = true

	res, err := h.svc.Register(ctx, 1, embs([]float32{1, 0, 0}))
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrCriticalStoreFailure)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)

	var cse *CriticalStoreError
	require.ErrorAs(t, err, &cse)
	assert.Equal(t, int64(1), cse.IdentityID)
	assert.Empty(t, h.index.profiles)
}

func TestRegister_IndexFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.index.failWrites = true

	res, err := h.svc.Register(ctx, 2, embs([]float32{1, 0, 0}, []float32{0, 1, 0}))
	require.NoError(t, err)
	require.NotNil(t, res.IndexWarning)
	assert.ErrorIs(t, res.IndexWarning, errOutage)
	assert.Equal(t, "embeddings/2.json", res.IndexWarning.DocumentRef)
	assert.Equal(t, 2, res.Profile.EmbeddingsCount)

	got, err := h.store.Fetch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	st, err := h.svc.Status(ctx, 2)
	require.NoError(t, err)
	assert.False(t, st.Consistent, "the auditor sees the missing profile")
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Register(ctx, 7, embs([]float32{1, 0, 0}))
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = h.svc.Register(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrNoEmbeddings)

	_, err = h.svc.Register(ctx, 1, embs([]float32{1, 0}))
	assert.ErrorIs(t, err, ErrInvalidVector)

	keys, err := h.objects.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRegister_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Register(ctx, 1, embs([]float32{float32(i) / 10, 0, 0}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.index.profiles, 1)
	assert.Equal(t, 0, h.svc.locks.size())
}

// --- verification ---

func TestVerify_MatchesNearestIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Register(ctx, 1, embs([]float32{0.1, 0, 0}))
	require.NoError(t, err)
	_, err = h.svc.Register(ctx, 2, embs([]float32{0.8, 0, 0}))
	require.NoError(t, err)

	m, err := h.svc.Verify(ctx, []float32{0, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.IdentityID)
	assert.InDelta(t, 0.9, m.Confidence, 1e-6)

	m, err = h.svc.Verify(ctx, []float32{0, 0, 1})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestVerify_StoreOutageIsNoMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	h.objects.down = true
	m, err := h.svc.Verify(ctx, []float32{0, 0, 0})
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestVerify_RejectsInvalidProbe(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Verify(context.Background(), []float32{0, 0})
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestVerify_IndexCrossCheck(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	h.index.failReads = true
	m, err := h.svc.Verify(ctx, []float32{0, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, m, "an unreachable index does not veto the source of truth")

	h.index.failReads = false
	h.index.profiles[1].IsActive = false
	m, err = h.svc.Verify(ctx, []float32{0, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, m, "an explicitly inactive profile rejects the match")
}

func TestVerify_DeletedIdentityNeverMatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	ok, err := h.svc.Delete(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	m, err := h.svc.Verify(ctx, []float32{0, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, m)
}

// --- deletion ---

func TestDelete_SoftDeletesBothSides(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	ok, err := h.svc.Delete(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	set, err := h.store.FetchSet(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, set, "soft delete keeps the document")
	assert.False(t, set.IsActive)
	assert.False(t, h.index.profiles[1].IsActive)
	assert.Equal(t, 0, h.index.profiles[1].EmbeddingsCount)

	st, err := h.svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.True(t, st.Consistent)
}

func TestDelete_StoreFailureIsOverallFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	h.objects.down = true
	ok, err := h.svc.Delete(ctx, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)

	assert.False(t, h.index.profiles[1].IsActive, "index was updated despite the store failure")
	assert.Equal(t, 0, h.index.profiles[1].EmbeddingsCount)
}

func TestDelete_IndexFailureIsOverallFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	h.index.failWrites = true
	ok, err := h.svc.Delete(ctx, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errOutage)
}

func TestDelete_UnknownIdentitySucceeds(t *testing.T) {
	h := newHarness(t)
	ok, err := h.svc.Delete(context.Background(), 99)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurge_RemovesDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Register(ctx, 1, embs([]float32{0, 0, 0}))
	require.NoError(t, err)

	ok, err := h.svc.Purge(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	set, err := h.store.FetchSet(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, set)
	assert.False(t, h.index.profiles[1].IsActive)

	h.objects.failDelete = true
	_, err = h.svc.Register(ctx, 2, embs([]float32{0, 0, 0}))
	require.NoError(t, err)
	ok, err = h.svc.Purge(ctx, 2)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.False(t, h.index.profiles[2].IsActive)
}

// --- consistency ---

func TestEndToEnd_RemovedDocumentIsDetected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Register(ctx, 42, embs([]float32{1, 0, 0}, []float32{0, 1, 0}))
	require.NoError(t, err)

	st, err := h.svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.True(t, st.Consistent)

	require.NoError(t, h.objects.DeleteObject(ctx, "embeddings/42.json"))

	st, err = h.svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.False(t, st.Consistent)

	report, err := h.svc.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, report.OrphanedInIndex)
	assert.Empty(t, report.OrphanedInStore)
	require.Len(t, report.Proposals, 1)
	assert.Equal(t, audit.ActionDeactivateProfile, report.Proposals[0].Action)
	assert.Equal(t, int64(42), report.Proposals[0].IdentityID)
}

// --- attempts ---

func TestRecordAttempt_LockoutAndReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	origin := "192.0.2.10"

	for i := 0; i < 4; i++ {
		_, err := h.svc.RecordAttempt(ctx, Attempt{Origin: origin, Action: models.AttemptActionVerification, Error: "no match"})
		require.NoError(t, err)
		allowed, _ := h.svc.CheckRateLimit(ctx, origin)
		assert.True(t, allowed, "failure %d", i+1)
	}

	_, err := h.svc.RecordAttempt(ctx, Attempt{Origin: origin, Action: models.AttemptActionRegistration, Error: "invalid identity"})
	require.NoError(t, err)

	allowed, reason := h.svc.CheckRateLimit(ctx, origin)
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)

	err = h.svc.Guard(ctx, origin)
	assert.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, 4*time.Minute)

	id := int64(1)
	conf := 0.93
	_, err = h.svc.RecordAttempt(ctx, Attempt{
		Origin:     origin,
		Action:     models.AttemptActionVerification,
		IdentityID: &id,
		Success:    true,
		Confidence: &conf,
	})
	require.NoError(t, err)

	allowed, _ = h.svc.CheckRateLimit(ctx, origin)
	assert.True(t, allowed, "a successful verification resets the origin")

	assert.Len(t, h.attempts.entries, 6)
	assert.Len(t, h.publisher.sent, 6)
	assert.Equal(t, &id, h.attempts.entries[5].IdentityID)
}

func TestUnblock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		_, err := h.svc.RecordAttempt(ctx, Attempt{Origin: "198.51.100.1", Action: models.AttemptActionVerification})
		require.NoError(t, err)
	}
	allowed, _ := h.svc.CheckRateLimit(ctx, "198.51.100.1")
	require.False(t, allowed)

	require.NoError(t, h.svc.Unblock(ctx, "198.51.100.1"))
	allowed, _ = h.svc.CheckRateLimit(ctx, "198.51.100.1")
	assert.True(t, allowed)
}

func TestRecordAttempt_LogFailureStillCountsTowardsLockout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.attempts.down = true
	origin := "203.0.113.7"

	for i := 0; i < 10; i++ {
		entry, err := h.svc.RecordAttempt(ctx, Attempt{Origin: origin, Action: models.AttemptActionVerification, Error: "no match"})
		require.ErrorIs(t, err, errOutage)
		assert.Nil(t, entry)
	}

	allowed, reason := h.svc.CheckRateLimit(ctx, origin)
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)
	assert.ErrorIs(t, h.svc.Guard(ctx, origin), ErrRateLimited)
	assert.Empty(t, h.attempts.entries)
	assert.Empty(t, h.publisher.sent, "unlogged attempts are not published")
}

func TestStatusAndAudit_BoundedByTimeouts(t *testing.T) {
	store := storage.NewEmbeddingStore(hangingObjects{}, storage.EmbeddingStoreOptions{Dimension: 3, AlgorithmVersion: "test"})
	index := &memIndex{profiles: map[int64]*models.ProfileRecord{}}
	dir := directory{1: true}
	svc := NewService(Deps{
		Store:     store,
		Index:     index,
		Directory: dir,
		Matcher:   match.NewEngine(0.4, 3),
		Auditor:   audit.NewAuditor(store, index, dir),
		Ledger:    ratelimit.NewLedger(ratelimit.NewMemoryStore(), 5, 5*time.Minute, nil),
	}, Options{Dimension: 3, StoreTimeout: 100 * time.Millisecond, AuditTimeout: 150 * time.Millisecond})

	statusDone := make(chan error, 1)
	go func() {
		_, err := svc.Status(context.Background(), 1)
		statusDone <- err
	}()
	select {
	case err := <-statusDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Status did not return after the store timeout")
	}

	auditDone := make(chan error, 1)
	go func() {
		_, err := svc.Audit(context.Background())
		auditDone <- err
	}()
	select {
	case err := <-auditDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Audit did not return after the audit timeout")
	}
}
