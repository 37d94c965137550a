package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/ratelimit"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/response"
)

// RateLimit enforces a per-client sliding window on tool invocations.
// Clients are keyed by session when one is bound, by IP otherwise.
// With a Redis client the window is shared across instances; without
// one it degrades to a per-process window.
func RateLimit(redisClient *redis.Client, requestsPerMin int) fiber.Handler {
	if requestsPerMin <= 0 {
		requestsPerMin = 120
	}
	// The limiter window is one second; spread the per-minute budget
	// with a burst allowance for bursty tool callers.
	perSecond := requestsPerMin / 60
	if perSecond < 1 {
		perSecond = 1
	}
	limiter := ratelimit.NewSlidingWindowLimiter(redisClient, perSecond, perSecond*5)

	return func(c *fiber.Ctx) error {
		key := SessionID(c)
		if key == "" {
			key = c.IP()
		}

		allowed, retryAfter := limiter.Allow(c.Context(), key)
		if !allowed {
			if retryAfter > 0 {
				c.Set("Retry-After", retryAfter.Round(time.Second).String())
			}
			return response.Error(c, fiber.StatusTooManyRequests,
				apperr.CodeRateLimited, "too many requests")
		}
		return c.Next()
	}
}
