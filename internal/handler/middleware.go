package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/timecapsule/internal/observability"
)

const (
	HeaderOwnerID = "X-Owner-ID"
	localsOwnerID = "ownerId"
)

// CorrelationMiddleware moves the request id into the user context so
// services can log it. It must run after the requestid middleware.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := requestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// RequireBearerSecret guards scheduler-invoked endpoints with a shared
// secret sent as "Authorization: Bearer <secret>".
func RequireBearerSecret(secret string) fiber.Handler {
	expected := []byte(secret)
	return func(c *fiber.Ctx) error {
		token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), expected) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		return c.Next()
	}
}

// RequireOwner trusts the owner id set by the authenticating gateway.
func RequireOwner() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerID := strings.TrimSpace(c.Get(HeaderOwnerID))
		if ownerID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing "+HeaderOwnerID+" header")
		}
		c.Locals(localsOwnerID, ownerID)
		return c.Next()
	}
}

func ownerID(c *fiber.Ctx) string {
	id, _ := c.Locals(localsOwnerID).(string)
	return id
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
