package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/RishiKendai/plagcode/internal/apperr"
	"github.com/RishiKendai/plagcode/internal/logger"
	"github.com/RishiKendai/plagcode/internal/metrics"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter manages rate limiting per client IP
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rps      float64
	burst    int
	idleTTL  time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rps,
		burst:    burst,
		idleTTL:  time.Hour,
	}
}

// GetLimiter gets or creates the limiter for key and evicts idle ones
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if e, ok := rl.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	for k, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idleTTL {
			delete(rl.limiters, k)
		}
	}

	e := &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst), lastSeen: now}
	rl.limiters[key] = e
	return e.limiter
}

// RateLimitMiddleware rejects clients exceeding their request budget
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: "Rate limit exceeded",
				Code:  "RATE_LIMIT_EXCEEDED",
			})
			return
		}
		c.Next()
	}
}

// BodyLimit caps the request body at limit bytes. Reads past the cap fail with *http.MaxBytesError.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// RequestLogger logs every request and records HTTP metrics
func RequestLogger() gin.HandlerFunc {
	log := logger.Named("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.RequestCount.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}

// ErrorHandlerMiddleware renders the last handler error as {error, code}
func ErrorHandlerMiddleware() gin.HandlerFunc {
	log := logger.Named("api")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		code := apperr.CodeOf(err)
		status := apperr.HTTPStatus(code)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("code", string(code)).Msg("Request error")
		}

		c.JSON(status, models.ErrorResponse{
			Error: apperr.Message(err),
			Code:  string(code),
		})
	}
}
