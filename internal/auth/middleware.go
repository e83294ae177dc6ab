package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const identityKey = "identity"

// RequireBearer extracts and validates `Authorization: Bearer <secret>`,
// attaching the identity to the request context on success.
func (s *Service) RequireBearer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		secret, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || secret == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		identity, err := s.Validate(c.Context(), secret)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return fiber.NewError(fiber.StatusUnauthorized, ve.Error())
			}
			s.logger.Error("token validation error", zap.Error(err))
			return fiber.NewError(fiber.StatusUnauthorized, "token validation failed")
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// RequirePermission guards an endpoint with a declared permission. It must
// run after RequireBearer.
func RequirePermission(perm string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		if !identity.HasPermission(perm) {
			return fiber.NewError(fiber.StatusForbidden, "missing permission "+perm)
		}
		return c.Next()
	}
}

// IdentityFromContext returns the authenticated identity, when present.
func IdentityFromContext(c *fiber.Ctx) (*Identity, bool) {
	identity, ok := c.Locals(identityKey).(*Identity)
	return identity, ok
}
