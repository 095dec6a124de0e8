package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mailsense/pkg/ratelimit"
)

// RateLimit admits one request per call against the shared limiter. Email
// budgets are charged inside the classify handler where the batch size is
// known; this layer only spends the request budget.
func RateLimit(limiter *ratelimit.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		if err := limiter.Allow(Identity(c), 0); err != nil {
			return err
		}
		return c.Next()
	}
}

// Identity resolves the rate-limit key: the authenticated user when present,
// otherwise the connecting address. Only the rightmost X-Forwarded-For hop
// is trusted; everything to its left is caller-controlled.
func Identity(c *fiber.Ctx) string {
	if userID, _ := c.Locals("user_id").(string); userID != "" {
		return "user:" + userID
	}
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		last := strings.TrimSpace(hops[len(hops)-1])
		if last != "" {
			return "ip:" + last
		}
	}
	return "ip:" + c.IP()
}
