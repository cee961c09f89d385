package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Rate   int           // requests per period
	Burst  int           // maximum burst size
	Period time.Duration // window the rate applies to
}

func (c RateLimitConfig) limit() redis_rate.Limit {
	period := c.Period
	if period <= 0 {
		period = time.Second
	}
	burst := c.Burst
	if burst <= 0 {
		burst = c.Rate
	}
	return redis_rate.Limit{Rate: c.Rate, Burst: burst, Period: period}
}

// RateLimiter manages rate limiting using Redis
type RateLimiter struct {
	limiter  *redis_rate.Limiter
	logger   *zap.Logger
	failOpen bool // if true, allow requests when Redis is unavailable
	prefix   string
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redisClient *redis.Client, failOpen bool, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limiter:  redis_rate.NewLimiter(redisClient),
		logger:   logger,
		failOpen: failOpen,
		prefix:   "ratelimit:",
	}
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware(keyFunc func(*gin.Context) string, config RateLimitConfig) gin.HandlerFunc {
	limit := config.limit()
	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		res, err := r.limiter.Allow(c.Request.Context(), r.prefix+key, limit)
		if err != nil {
			r.logger.Error("rate limiter error", zap.Error(err))
			if r.failOpen {
				c.Next()
				return
			}
			response.ServiceUnavailable(c, "Rate limiting unavailable")
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit.Rate))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(res.ResetAfter).Unix()))

		if res.Allowed == 0 {
			response.RateLimited(c, int(res.RetryAfter.Seconds())+1)
			c.Abort()
			return
		}

		c.Next()
	}
}

// Key functions for different rate limiting strategies

// ByIP limits requests by client IP address
func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByDevice limits requests by authenticated device, then user, then IP
func ByDevice(c *gin.Context) string {
	if deviceID := c.GetString("device_id"); deviceID != "" {
		return "device:" + deviceID
	}
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return ByIP(c)
}

// Predefined rate limit configurations
var (
	// Registration: 3 per minute per IP
	RegisterConfig = RateLimitConfig{Rate: 3, Burst: 3, Period: time.Minute}

	// Verification calls the App Store: 1 per second, bursts of 5
	VerifyConfig = RateLimitConfig{Rate: 1, Burst: 5, Period: time.Second}
)
