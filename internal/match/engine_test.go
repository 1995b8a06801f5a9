package match

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facesync/internal/models"
)

func set(id int64, vectors ...[]float32) models.EmbeddingSet {
	s := models.EmbeddingSet{IdentityID: id, IsActive: true}
	for _, v := range vectors {
		s.Embeddings = append(s.Embeddings, models.Embedding{Vector: v})
	}
	return s
}

func TestEuclideanDistance(t *testing.T) {
	assert.InDelta(t, 5.0, EuclideanDistance([]float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.Equal(t, 0.0, EuclideanDistance([]float32{1, 2}, []float32{1, 2}))
	assert.True(t, EuclideanDistance([]float32{1}, []float32{1, 2}) > 1e300)
}

func TestEngine_PicksNearestIdentity(t *testing.T) {
	e := NewEngine(0.4, 3)
	probe := []float32{0, 0, 0}

	candidates := []models.EmbeddingSet{
		set(2, []float32{0.8, 0, 0}),
		set(1, []float32{0.5, 0, 0}, []float32{0.1, 0, 0}),
	}

	m, err := e.FindBestMatch(probe, candidates)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.IdentityID)
	assert.InDelta(t, 0.1, m.Distance, 1e-6)
	assert.InDelta(t, 0.9, m.Confidence, 1e-6)
}

func TestEngine_NoMatchOutsideTolerance(t *testing.T) {
	e := NewEngine(0.4, 3)

	m, err := e.FindBestMatch([]float32{0, 0, 0}, []models.EmbeddingSet{set(1, []float32{0.4, 0, 0})})
	require.NoError(t, err)
	assert.Nil(t, m, "distance equal to tolerance is not a match")

	m, err = e.FindBestMatch([]float32{0, 0, 0}, nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestEngine_TieGoesToLowestIdentity(t *testing.T) {
	e := NewEngine(0.4, 3)
	probe := []float32{0, 0, 0}

	candidates := []models.EmbeddingSet{
		set(9, []float32{0, 0.2, 0}),
		set(4, []float32{0.2, 0, 0}),
		set(7, []float32{0, 0, 0.2}),
	}
	for i := 0; i < 5; i++ {
		rand.Shuffle(len(candidates), func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
		m, err := e.FindBestMatch(probe, candidates)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, int64(4), m.IdentityID)
	}
}

func TestEngine_SkipsEmptyIdentities(t *testing.T) {
	e := NewEngine(0.4, 3)

	m, err := e.FindBestMatch([]float32{0, 0, 0}, []models.EmbeddingSet{set(1), set(2, []float32{0.3, 0, 0})})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.IdentityID)
}

func TestEngine_RejectsInvalidProbe(t *testing.T) {
	e := NewEngine(0.4, 3)
	candidates := []models.EmbeddingSet{set(1, []float32{0, 0, 0})}

	for name, probe := range map[string][]float32{
		"empty":     nil,
		"too short": {0, 0},
		"too long":  {0, 0, 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.FindBestMatch(probe, candidates)
			assert.ErrorIs(t, err, ErrInvalidVector)
		})
	}
}

func TestHNSW_AgreesWithEngine(t *testing.T) {
	const dim = 8
	rng := rand.New(rand.NewSource(1))
	randVec := func(scale float32) []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = (rng.Float32()*2 - 1) * scale
		}
		return v
	}

	var candidates []models.EmbeddingSet
	for id := int64(1); id <= 10; id++ {
		candidates = append(candidates, set(id, randVec(1), randVec(1)))
	}

	brute := NewEngine(0.4, dim)
	ann := NewHNSW(0.4, dim)

	for i := 0; i < 20; i++ {
		target := candidates[rng.Intn(len(candidates))]
		probe := append([]float32(nil), target.Embeddings[0].Vector...)
		probe[0] += 0.05

		want, err := brute.FindBestMatch(probe, candidates)
		require.NoError(t, err)
		got, err := ann.FindBestMatch(probe, candidates)
		require.NoError(t, err)

		require.NotNil(t, want)
		require.NotNil(t, got)
		assert.Equal(t, want.IdentityID, got.IdentityID)
		assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)
	}

	m, err := ann.FindBestMatch(randVec(1), nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = ann.FindBestMatch([]float32{1}, candidates)
	assert.ErrorIs(t, err, ErrInvalidVector)
}
