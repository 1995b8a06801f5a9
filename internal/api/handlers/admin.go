package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facesync/internal/api/ws"
	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/queue"
	"github.com/your-org/facesync/pkg/dto"
)

// AdminService is the operator surface of biometric.Service.
type AdminService interface {
	Audit(ctx context.Context) (*audit.Report, error)
	AttemptRecord(ctx context.Context, origin string) (*models.AttemptRecord, error)
	Unblock(ctx context.Context, origin string) error
}

// AuditQueue hands audits to the auditor worker. Optional.
type AuditQueue interface {
	RequestAudit(ctx context.Context, requestedBy string) (uuid.UUID, error)
	LatestAuditReport(ctx context.Context) (*queue.AuditReportMessage, error)
}

type AttemptLogReader interface {
	RecentAttemptLogs(ctx context.Context, origin string, limit int) ([]models.AttemptLog, error)
}

type AdminHandler struct {
	svc   AdminService
	queue AuditQueue
	logs  AttemptLogReader
}

func NewAdminHandler(svc AdminService, q AuditQueue, logs AttemptLogReader) *AdminHandler {
	return &AdminHandler{svc: svc, queue: q, logs: logs}
}

// Audit runs a read-only consistency audit inline.
func (h *AdminHandler) Audit(c *gin.Context) {
	report, err := h.svc.Audit(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RequestAudit queues an audit for the auditor worker.
func (h *AdminHandler) RequestAudit(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit queue not configured"})
		return
	}
	id, err := h.queue.RequestAudit(c.Request.Context(), c.ClientIP())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, dto.AuditRequestResponse{RequestID: id})
}

// LatestAudit returns the newest report published by the auditor worker.
func (h *AdminHandler) LatestAudit(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit queue not configured"})
		return
	}
	msg, err := h.queue.LatestAuditReport(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no audit report published yet"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *AdminHandler) ListAttempts(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attempt log not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.logs.RecentAttemptLogs(c.Request.Context(), c.Query("origin"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]*dto.AttemptEvent, len(logs))
	for i := range logs {
		resp[i] = ws.AttemptEvent(&logs[i])
	}
	c.JSON(http.StatusOK, gin.H{"attempts": resp, "count": len(resp)})
}

func (h *AdminHandler) GetAttemptRecord(c *gin.Context) {
	origin := c.Param("origin")
	rec, err := h.svc.AttemptRecord(c.Request.Context(), origin)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, dto.AttemptRecordResponse{OriginIP: origin})
		return
	}

	resp := dto.AttemptRecordResponse{
		OriginIP:      rec.OriginIP,
		AttemptsCount: rec.AttemptsCount,
		LastAttemptAt: rec.LastAttemptAt.UTC().Format(time.RFC3339),
	}
	if rec.BlockedUntil != nil {
		until := rec.BlockedUntil.UTC().Format(time.RFC3339)
		resp.BlockedUntil = &until
	}
	c.JSON(http.StatusOK, resp)
}

// Unblock clears an origin's lockout.
func (h *AdminHandler) Unblock(c *gin.Context) {
	if err := h.svc.Unblock(c.Request.Context(), c.Param("origin")); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
