package match

import (
	"time"

	"github.com/coder/hnsw"

	"github.com/your-org/facesync/internal/models"
)

const (
	// HNSWMaxNeighbors is the M parameter of the graph.
	HNSWMaxNeighbors = 16
	// HNSWSearchK is how many nearest embeddings are inspected per probe.
	HNSWSearchK = 32
)

// HNSW answers FindBestMatch with an approximate nearest-neighbour graph over
// all candidate embeddings. The graph is rebuilt from the candidates on every
// call so results never outlive the sets they were built from.
type HNSW struct {
	tolerance float64
	dimension int
	k         int
}

func NewHNSW(tolerance float64, dimension int) *HNSW {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &HNSW{tolerance: tolerance, dimension: dimension, k: HNSWSearchK}
}

type nodeRef struct {
	identityID int64
	vector     []float32
}

func (h *HNSW) FindBestMatch(probe []float32, candidates []models.EmbeddingSet) (*Match, error) {
	defer observeMatch("hnsw", time.Now())

	if err := validateProbe(probe, h.dimension); err != nil {
		return nil, err
	}

	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	var refs []nodeRef
	for _, set := range candidates {
		for _, emb := range set.Embeddings {
			if len(emb.Vector) != len(probe) {
				continue
			}
			g.Add(hnsw.MakeNode(len(refs), emb.Vector))
			refs = append(refs, nodeRef{identityID: set.IdentityID, vector: emb.Vector})
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	k := h.k
	if k > len(refs) {
		k = len(refs)
	}

	var best *Match
	for _, n := range g.Search(probe, k) {
		ref := refs[n.Key]
		// Graph distances are float32; recompute exactly so both matchers agree.
		dist := EuclideanDistance(probe, ref.vector)
		if dist >= h.tolerance {
			continue
		}
		best = better(best, &Match{IdentityID: ref.identityID, Distance: dist, Confidence: 1 - dist})
	}
	return best, nil
}
