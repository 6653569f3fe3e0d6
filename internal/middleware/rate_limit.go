package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/pkg/logger"
)

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	RequestsPerMinute int
	KeyPrefix         string
	Message           string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
		KeyPrefix:         "popup:ratelimit:",
		Message:           "Too many requests, retry later",
	}
}

// rateLimitScript is an atomic Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window_start = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, math.ceil(window / 1000) + 1)
    return {1, limit - count - 1, 0}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset_at = 0
    if #oldest >= 2 then
        reset_at = tonumber(oldest[2]) + window
    end
    return {0, 0, reset_at}
end
`)

// RateLimit limits requests per client IP. A nil client disables limiting.
func RateLimit(redisClient *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(redisClient, cfg, func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	})
}

// RateLimitPerShop limits requests per :shop path param, falling back to client IP
func RateLimitPerShop(redisClient *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(redisClient, cfg, func(c *gin.Context) string {
		if shop := ShopDomain(c); shop != "" {
			return "shop:" + shop
		}
		return "ip:" + c.ClientIP()
	})
}

func rateLimit(redisClient *redis.Client, cfg RateLimitConfig, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || cfg.RequestsPerMinute <= 0 {
			c.Next()
			return
		}

		key := cfg.KeyPrefix + keyFn(c)
		now := time.Now().UnixMilli()
		windowMs := int64(60 * 1000) // 1 minute

		result, err := rateLimitScript.Run(c.Request.Context(), redisClient, []string{key},
			cfg.RequestsPerMinute, windowMs, now,
		).Int64Slice()
		if err != nil {
			// fail open
			logger.GetLogger().Warn().Err(err).Str("key", key).Msg("rate limit check failed")
			c.Next()
			return
		}

		allowed := result[0] == 1
		remaining := result[1]
		resetAt := result[2]

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			retryAfter := max((resetAt-now)/1000, 1)
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt/1000))
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			common.ErrorResponse(c, http.StatusTooManyRequests, cfg.Message, nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
