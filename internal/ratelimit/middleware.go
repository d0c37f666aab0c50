package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareConfig configures the gin middleware.
type MiddlewareConfig struct {
	Limiter Limiter
	// Identify returns the caller identity; the client IP is used when it returns "".
	Identify func(c *gin.Context) string
	Logger   *zap.Logger
}

// Middleware rejects requests over quota with 429. Limiter failures let the request through.
func Middleware(cfg MiddlewareConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if cfg.Limiter == nil {
			c.Next()
			return
		}
		identity := ""
		if cfg.Identify != nil {
			identity = cfg.Identify(c)
		}
		if identity == "" {
			identity = "ip:" + c.ClientIP()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		bucket := c.Request.Method + " " + route + ":" + identity

		decision, err := cfg.Limiter.Allow(c.Request.Context(), bucket)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("bucket", bucket), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "code": "ratelimit.exceeded"})
			return
		}
		c.Next()
	}
}
