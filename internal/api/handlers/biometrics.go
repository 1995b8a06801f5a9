package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/biometric"
	"github.com/your-org/facesync/internal/match"
	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/pkg/dto"
)

const timeFormat = "2006-01-02T15:04:05Z"

// BiometricService is the part of biometric.Service the HTTP layer uses.
type BiometricService interface {
	Register(ctx context.Context, identityID int64, embeddings []models.Embedding) (*biometric.RegistrationResult, error)
	Verify(ctx context.Context, probe []float32) (*match.Match, error)
	Delete(ctx context.Context, identityID int64) (bool, error)
	Purge(ctx context.Context, identityID int64) (bool, error)
	Status(ctx context.Context, identityID int64) (*audit.Status, error)
	RecordAttempt(ctx context.Context, a biometric.Attempt) (*models.AttemptLog, error)
}

type BiometricHandler struct {
	svc BiometricService
}

func NewBiometricHandler(svc BiometricService) *BiometricHandler {
	return &BiometricHandler{svc: svc}
}

func parseIdentityID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return 0, false
	}
	return id, true
}

// Register stores the embeddings of an identity, replacing earlier ones.
func (h *BiometricHandler) Register(c *gin.Context) {
	start := time.Now()
	id, ok := parseIdentityID(c)
	if !ok {
		return
	}

	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.record(c, biometric.Attempt{Action: models.AttemptActionRegistration, Error: err.Error()}, start)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	embeddings := make([]models.Embedding, len(req.Embeddings))
	for i, e := range req.Embeddings {
		embeddings[i] = models.Embedding{Vector: e.Vector, QualityScore: e.QualityScore, CaptureAngle: e.Angle}
	}

	res, err := h.svc.Register(c.Request.Context(), id, embeddings)
	if err != nil {
		h.record(c, biometric.Attempt{Action: models.AttemptActionRegistration, IdentityID: &id, Error: err.Error()}, start)
		switch {
		case errors.Is(err, biometric.ErrInvalidIdentity):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, biometric.ErrNoEmbeddings), errors.Is(err, biometric.ErrInvalidVector):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, biometric.ErrCriticalStoreFailure):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service degraded: embeddings could not be stored"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	h.record(c, biometric.Attempt{Action: models.AttemptActionRegistration, IdentityID: &id, Success: true}, start)

	resp := dto.RegisterResponse{Profile: profileResponse(res.Profile)}
	if res.IndexWarning != nil {
		resp.Warning = "profile index not updated; it will be repaired by the consistency audit"
	}
	c.JSON(http.StatusCreated, resp)
}

// Verify matches a probe vector against every enrolled identity. No match is
// a normal 200 response.
func (h *BiometricHandler) Verify(c *gin.Context) {
	start := time.Now()

	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.record(c, biometric.Attempt{Action: models.AttemptActionVerification, Error: err.Error()}, start)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.svc.Verify(c.Request.Context(), req.Vector)
	if err != nil {
		h.record(c, biometric.Attempt{Action: models.AttemptActionVerification, Error: err.Error()}, start)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		h.record(c, biometric.Attempt{Action: models.AttemptActionVerification, Error: "no match"}, start)
		c.JSON(http.StatusOK, dto.VerifyResponse{Matched: false})
		return
	}

	h.record(c, biometric.Attempt{
		Action:     models.AttemptActionVerification,
		IdentityID: &m.IdentityID,
		Success:    true,
		Confidence: &m.Confidence,
	}, start)
	c.JSON(http.StatusOK, dto.VerifyResponse{Matched: true, IdentityID: &m.IdentityID, Confidence: &m.Confidence})
}

// Delete soft-deletes an identity. A partial failure is a 502 with
// deleted=false: the caller should retry or audit.
func (h *BiometricHandler) Delete(c *gin.Context) {
	h.remove(c, h.svc.Delete)
}

// Purge removes the embedding document outright.
func (h *BiometricHandler) Purge(c *gin.Context) {
	h.remove(c, h.svc.Purge)
}

func (h *BiometricHandler) remove(c *gin.Context, op func(context.Context, int64) (bool, error)) {
	id, ok := parseIdentityID(c)
	if !ok {
		return
	}

	deleted, err := op(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadGateway, dto.DeleteResponse{IdentityID: id, Deleted: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResponse{IdentityID: id, Deleted: deleted})
}

func (h *BiometricHandler) Status(c *gin.Context) {
	id, ok := parseIdentityID(c)
	if !ok {
		return
	}

	st, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *BiometricHandler) record(c *gin.Context, a biometric.Attempt, start time.Time) {
	a.Origin = c.ClientIP()
	a.Latency = time.Since(start)
	// Failures to log an attempt must not change the response.
	_, _ = h.svc.RecordAttempt(c.Request.Context(), a)
}

func profileResponse(p *models.ProfileRecord) dto.ProfileResponse {
	return dto.ProfileResponse{
		IdentityID:      p.IdentityID,
		EmbeddingsCount: p.EmbeddingsCount,
		IsActive:        p.IsActive,
		DocumentRef:     p.ExternalDocumentRef,
		CreatedAt:       p.CreatedAt.UTC().Format(timeFormat),
		LastUpdated:     p.LastUpdated.UTC().Format(timeFormat),
	}
}
