package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facesync/internal/biometric"
	"github.com/your-org/facesync/internal/observability"
	"github.com/your-org/facesync/pkg/dto"
)

// LoggingMiddleware logs each request with slog.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			fmt.Sprintf("%d", status),
		).Observe(duration.Seconds())
	}
}

// RateLimitGuard refuses requests from origins the attempt ledger has locked
// out. guard returns an error wrapping biometric.ErrRateLimited for them.
func RateLimitGuard(guard func(ctx context.Context, origin string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := guard(c.Request.Context(), c.ClientIP())
		if err == nil {
			c.Next()
			return
		}

		resp := dto.RateLimitedResponse{Error: "rate limited", Reason: err.Error()}
		var rl *biometric.RateLimitedError
		if errors.As(err, &rl) {
			resp.Reason = rl.Reason
			if rl.RetryAfter > 0 {
				secs := int(math.Ceil(rl.RetryAfter.Seconds()))
				resp.RetryAfterSeconds = secs
				c.Header("Retry-After", strconv.Itoa(secs))
			}
		}
		if !errors.Is(err, biometric.ErrRateLimited) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
	}
}
