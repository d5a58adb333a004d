package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/repository"
	"github.com/casedesk/case-service/internal/service"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	InstitutionID int64
	Operator      *domain.Operator
}

// Actor converts the principal for service calls.
func (p *Principal) Actor() service.Actor {
	return service.Actor{InstitutionID: p.InstitutionID, Operator: *p.Operator}
}

// IsGlobalAdmin reports a session in the superadmin institution.
func (p *Principal) IsGlobalAdmin() bool {
	return p.InstitutionID == domain.SuperadminInstitutionID
}

// AuthMiddleware validates session cookies and loads principals.
type AuthMiddleware struct {
	sessions   *SessionCodec
	operators  repository.OperatorRepository
	cookieName string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(sessions *SessionCodec, operators repository.OperatorRepository, cookieName string) *AuthMiddleware {
	if cookieName == "" {
		cookieName = "case_session"
	}
	return &AuthMiddleware{sessions: sessions, operators: operators, cookieName: cookieName}
}

// Handle enforces authentication for protected routes. The session cookie is
// preferred; a bearer header is accepted for tooling.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw := c.Cookies(m.cookieName)
	if raw == "" {
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return apperrors.NewUnauthorized("invalid authorization header")
			}
			raw = parts[1]
		}
	}
	if raw == "" {
		return apperrors.NewUnauthorized("missing session")
	}

	claims, err := m.sessions.Verify(raw)
	if err != nil {
		return apperrors.NewUnauthorized("invalid session")
	}

	operator, err := m.operators.GetByID(c.UserContext(), claims.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewUnauthorized("operator not found")
		}
		return apperrors.MapError(err)
	}
	if !operator.Active {
		return apperrors.NewUnauthorized("operator is inactive")
	}

	c.Locals(principalKey, &Principal{InstitutionID: claims.InstitutionID, Operator: operator})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
