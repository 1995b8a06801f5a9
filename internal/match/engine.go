package match

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
)

// DefaultTolerance is the maximum Euclidean distance accepted as a match.
const DefaultTolerance = 0.4

// ErrInvalidVector is returned when a probe has the wrong dimension.
var ErrInvalidVector = errors.New("invalid probe vector")

// Match is the identity selected for a probe.
type Match struct {
	IdentityID int64
	Distance   float64
	Confidence float64
}

// Matcher selects the best identity for a probe among candidate sets.
// A nil Match with a nil error means no candidate is within tolerance.
type Matcher interface {
	FindBestMatch(probe []float32, candidates []models.EmbeddingSet) (*Match, error)
}

// Engine is the exhaustive matcher: every embedding of every candidate is
// compared with the probe.
type Engine struct {
	tolerance float64
	dimension int
}

func NewEngine(tolerance float64, dimension int) *Engine {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Engine{tolerance: tolerance, dimension: dimension}
}

func (e *Engine) Tolerance() float64 { return e.tolerance }

func (e *Engine) FindBestMatch(probe []float32, candidates []models.EmbeddingSet) (*Match, error) {
	defer observeMatch("brute", time.Now())

	if err := validateProbe(probe, e.dimension); err != nil {
		return nil, err
	}

	var best *Match
	for i := range candidates {
		set := &candidates[i]
		dist, ok := minDistance(probe, set.Embeddings)
		if !ok || dist >= e.tolerance {
			continue
		}
		best = better(best, &Match{IdentityID: set.IdentityID, Distance: dist, Confidence: 1 - dist})
	}
	return best, nil
}

// EuclideanDistance returns the L2 distance between a and b, or +Inf when the
// lengths differ.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func minDistance(probe []float32, embeddings []models.Embedding) (float64, bool) {
	best := math.Inf(1)
	found := false
	for _, emb := range embeddings {
		if len(emb.Vector) != len(probe) {
			continue
		}
		if d := EuclideanDistance(probe, emb.Vector); d < best {
			best = d
			found = true
		}
	}
	return best, found
}

// better returns whichever of cur and cand has the higher confidence, the
// lower identity id winning a tie.
func better(cur, cand *Match) *Match {
	if cur == nil {
		return cand
	}
	if cand.Confidence > cur.Confidence {
		return cand
	}
	if cand.Confidence == cur.Confidence && cand.IdentityID < cur.IdentityID {
		return cand
	}
	return cur
}

func validateProbe(probe []float32, dimension int) error {
	if len(probe) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	if dimension > 0 && len(probe) != dimension {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidVector, len(probe), dimension)
	}
	for _, v := range probe {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidVector)
		}
	}
	return nil
}

func observeMatch(kind string, start time.Time) {
	observability.MatchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
