package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facesync/internal/api/handlers"
	"github.com/your-org/facesync/internal/api/ws"
	"github.com/your-org/facesync/internal/auth"
)

// Service is everything the router needs from biometric.Service.
type Service interface {
	handlers.BiometricService
	handlers.AdminService
	Guard(ctx context.Context, origin string) error
}

type RouterConfig struct {
	APIKey      string
	AdminAPIKey string
	Service     Service
	Attempts    handlers.AttemptLogReader
	// AuditQueue is optional; without it the queued audit endpoints answer 503.
	AuditQueue handlers.AuditQueue
	Hub        *ws.Hub
	Checks     []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey, cfg.AdminAPIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	bioH := handlers.NewBiometricHandler(cfg.Service)
	guarded := v1.Group("", RateLimitGuard(cfg.Service.Guard))
	guarded.POST("/identities/:id/embeddings", bioH.Register)
	guarded.POST("/verify", bioH.Verify)
	v1.DELETE("/identities/:id", bioH.Delete)
	v1.GET("/identities/:id/status", bioH.Status)

	// Operator endpoints
	adminH := handlers.NewAdminHandler(cfg.Service, cfg.AuditQueue, cfg.Attempts)
	admin := v1.Group("/admin", auth.RequireAdmin(cfg.AdminAPIKey))
	admin.GET("/audit", adminH.Audit)
	admin.POST("/audit/requests", adminH.RequestAudit)
	admin.GET("/audit/latest", adminH.LatestAudit)
	admin.DELETE("/identities/:id/document", bioH.Purge)
	admin.GET("/attempts", adminH.ListAttempts)
	admin.GET("/attempts/:origin", adminH.GetAttemptRecord)
	admin.DELETE("/attempts/:origin", adminH.Unblock)

	return r
}
