package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// RequireGlobalAdmin allows only sessions in the superadmin institution.
func RequireGlobalAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.IsGlobalAdmin() {
			return apperrors.NewForbidden("global admin required")
		}
		return c.Next()
	}
}

// RequireAdmin allows office or institution admins, and global admins.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.IsGlobalAdmin() && !principal.Operator.IsAdmin() {
			return apperrors.NewForbidden("admin role required")
		}
		return c.Next()
	}
}
