package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/your-org/facesync/internal/models"
)

// Embedding documents exist in two shapes. Legacy documents carry raw vector
// arrays keyed by employee_id with no per-embedding metadata; current
// documents carry one object per embedding and a schema_version. Both are
// decoded into models.EmbeddingSet here and nowhere else.

const documentSchemaVersion = 2

type documentShape int

const (
	shapeCurrent documentShape = iota
	shapeLegacy
)

func (s documentShape) String() string {
	if s == shapeLegacy {
		return "legacy"
	}
	return "current"
}

var errMalformedDocument = errors.New("malformed embedding document")

type document struct {
	SchemaVersion    int                 `json:"schema_version"`
	IdentityID       int64               `json:"identity_id"`
	Embeddings       []documentEmbedding `json:"embeddings"`
	IsActive         bool                `json:"is_active"`
	AlgorithmVersion string              `json:"algorithm_version"`
	CreatedAt        time.Time           `json:"created_at"`
	LastUpdated      time.Time           `json:"last_updated"`
}

type documentEmbedding struct {
	Vector       []float32 `json:"vector"`
	QualityScore float64   `json:"quality_score"`
	Angle        string    `json:"angle"`
	CreatedAt    time.Time `json:"created_at"`
}

// rawDocument accepts either shape.
type rawDocument struct {
	SchemaVersion    int               `json:"schema_version"`
	IdentityID       *int64            `json:"identity_id"`
	EmployeeID       *int64            `json:"employee_id"`
	Embeddings       []json.RawMessage `json:"embeddings"`
	IsActive         *bool             `json:"is_active"`
	AlgorithmVersion string            `json:"algorithm_version"`
	CreatedAt        flexTime          `json:"created_at"`
	LastUpdated      flexTime          `json:"last_updated"`
	UpdatedAt        flexTime          `json:"updated_at"`
}

type rawEmbedding struct {
	Vector       []float32 `json:"vector"`
	QualityScore *float64  `json:"quality_score"`
	Angle        string    `json:"angle"`
	CaptureAngle string    `json:"capture_angle"`
	CreatedAt    flexTime  `json:"created_at"`
}

// decodedDocument is the canonical form plus what the decoder had to drop.
type decodedDocument struct {
	Set     *models.EmbeddingSet
	Shape   documentShape
	Dropped int
}

// decodeDocument parses either document shape. Vectors whose length differs
// from dimension are dropped and counted, never truncated or padded.
// keyID is the identity encoded in the object key. It is authoritative: a
// document declaring another identity is malformed. Zero means unknown.
func decodeDocument(data []byte, dimension int, keyID int64) (*decodedDocument, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedDocument, err)
	}

	set := &models.EmbeddingSet{
		AlgorithmVersion: raw.AlgorithmVersion,
		CreatedAt:        raw.CreatedAt.Time,
		LastUpdated:      raw.LastUpdated.Time,
		IsActive:         true,
	}
	switch {
	case raw.IdentityID != nil:
		set.IdentityID = *raw.IdentityID
	case raw.EmployeeID != nil:
		set.IdentityID = *raw.EmployeeID
	default:
		set.IdentityID = keyID
	}
	if keyID != 0 && set.IdentityID != keyID {
		return nil, fmt.Errorf("%w: document declares identity %d under key of identity %d",
			errMalformedDocument, set.IdentityID, keyID)
	}
	if raw.IsActive != nil {
		set.IsActive = *raw.IsActive
	}
	if set.LastUpdated.IsZero() {
		set.LastUpdated = raw.UpdatedAt.Time
	}

	out := &decodedDocument{Set: set, Shape: shapeCurrent}
	if raw.SchemaVersion < documentSchemaVersion {
		out.Shape = shapeLegacy
	}

	set.Embeddings = make([]models.Embedding, 0, len(raw.Embeddings))
	for _, item := range raw.Embeddings {
		emb, ok := decodeEmbedding(item, set.CreatedAt)
		if !ok || (dimension > 0 && len(emb.Vector) != dimension) {
			out.Dropped++
			continue
		}
		set.Embeddings = append(set.Embeddings, emb)
	}
	return out, nil
}

func decodeEmbedding(item json.RawMessage, docCreated time.Time) (models.Embedding, bool) {
	item = bytes.TrimSpace(item)
	if len(item) == 0 {
		return models.Embedding{}, false
	}

	switch item[0] {
	case '[':
		var vec []float32
		if err := json.Unmarshal(item, &vec); err != nil {
			return models.Embedding{}, false
		}
		return models.Embedding{Vector: vec, CreatedAt: docCreated}, true
	case '{':
		var re rawEmbedding
		if err := json.Unmarshal(item, &re); err != nil || len(re.Vector) == 0 {
			return models.Embedding{}, false
		}
		emb := models.Embedding{
			Vector:       re.Vector,
			CaptureAngle: re.Angle,
			CreatedAt:    re.CreatedAt.Time,
		}
		if emb.CaptureAngle == "" {
			emb.CaptureAngle = re.CaptureAngle
		}
		if re.QualityScore != nil {
			emb.QualityScore = *re.QualityScore
		}
		if emb.CreatedAt.IsZero() {
			emb.CreatedAt = docCreated
		}
		return emb, true
	default:
		return models.Embedding{}, false
	}
}

// encodeDocument always writes the current shape.
func encodeDocument(set *models.EmbeddingSet) ([]byte, error) {
	doc := document{
		SchemaVersion:    documentSchemaVersion,
		IdentityID:       set.IdentityID,
		Embeddings:       make([]documentEmbedding, 0, len(set.Embeddings)),
		IsActive:         set.IsActive,
		AlgorithmVersion: set.AlgorithmVersion,
		CreatedAt:        set.CreatedAt.UTC(),
		LastUpdated:      set.LastUpdated.UTC(),
	}
	for _, e := range set.Embeddings {
		doc.Embeddings = append(doc.Embeddings, documentEmbedding{
			Vector:       e.Vector,
			QualityScore: e.QualityScore,
			Angle:        e.CaptureAngle,
			CreatedAt:    e.CreatedAt.UTC(),
		})
	}
	return json.Marshal(doc)
}

// flexTime reads the timestamp spellings found in stored documents:
// RFC 3339, naive ISO-8601 (assumed UTC), unix seconds and {"$date": ...}.
type flexTime struct {
	time.Time
}

var naiveLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		for _, layout := range naiveLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed.UTC()
				return nil
			}
		}
		return fmt.Errorf("unrecognised timestamp %q", s)
	case '{':
		var wrapped struct {
			Date json.RawMessage `json:"$date"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		return t.UnmarshalJSON(wrapped.Date)
	default:
		secs, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("unrecognised timestamp %s", data)
		}
		whole := int64(secs)
		t.Time = time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
		return nil
	}
}
