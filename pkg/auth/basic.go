package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/router"
)

// AdminAuth validates the X-Admin-Secret header.
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if AdminSecretKey == "" {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}

		adminSecret := c.Get("X-Admin-Secret")
		if adminSecret == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}

		if subtle.ConstantTimeCompare([]byte(adminSecret), []byte(AdminSecretKey)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}

		return c.Next()
	}
}

// SessionAuth requires "Authorization: Bearer <jwt>" whose subject is the
// :userId route parameter. It is a no-op while JWTSecretKey is empty.
func SessionAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if JWTSecretKey == "" {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		claims, err := ValidateSessionToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		if claims.Subject != c.Params("userId") {
			return router.ResponseUnauthorized(c, "Token does not grant access to this user")
		}

		c.Locals("user_id", claims.Subject)
		return c.Next()
	}
}
