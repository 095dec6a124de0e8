package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"mailsense/pkg/apperr"
)

// CallerAuth validates HS256 caller-identity tokens and stores the user id
// in locals. Production fails closed on a missing secret; in development an
// unset secret falls back to the X-User-ID header so local runs need no
// token plumbing.
func CallerAuth(secret string, production bool, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		if secret == "" {
			if production {
				return apperr.Unauthorized("caller auth not configured")
			}
			userID := c.Get("X-User-ID")
			if userID == "" {
				return apperr.Unauthorized("missing X-User-ID header")
			}
			c.Locals("user_id", userID)
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return apperr.Unauthorized("missing bearer token")
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			logger.Warn().Err(err).Str("path", c.Path()).Msg("token validation failed")
			return apperr.Unauthorized("invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperr.Unauthorized("invalid claims")
		}
		if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() > int64(exp) {
			return apperr.Unauthorized("token expired")
		}
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return apperr.Unauthorized("missing subject")
		}

		c.Locals("user_id", sub)
		return c.Next()
	}
}

// AdminAuth guards the admin surface with a static bearer key. An unset key
// disables the surface entirely rather than leaving it open.
func AdminAuth(adminKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminKey == "" {
			return apperr.NotFound("resource")
		}
		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return apperr.Unauthorized("missing bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(adminKey)) != 1 {
			return apperr.Forbidden("invalid admin key")
		}
		return c.Next()
	}
}

// UserID returns the authenticated caller identity set by CallerAuth.
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}
