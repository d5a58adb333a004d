package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/repository"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

func newAuthApp(t *testing.T) (*fiber.App, *SessionCodec) {
	t.Helper()
	repos, state := repository.NewMemoryRepositories()
	state.PutOperator(domain.Operator{ID: 11, InstitutionID: 7, Name: "Ana", Role: domain.OperatorRoleAgent, Active: true})
	state.PutOperator(domain.Operator{ID: 12, InstitutionID: 7, Name: "Bo", Role: domain.OperatorRoleOfficeAdmin, Active: true})
	state.PutOperator(domain.Operator{ID: 13, InstitutionID: 7, Name: "Cy", Role: domain.OperatorRoleAgent, Active: false})

	tokens := NewSessionCodec("test-secret", 5*time.Minute)
	mw := NewAuthMiddleware(tokens, repos.Operators, "")

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			domainErr := apperrors.ToDomainError(err)
			return c.Status(domainErr.HTTPStatus).SendString(domainErr.Code)
		},
	})
	app.Get("/me", mw.Handle, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.JSON(fiber.Map{"institution": p.InstitutionID, "operator": p.Operator.ID})
	})
	app.Get("/admin", mw.Handle, RequireAdmin(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })
	app.Get("/global", mw.Handle, RequireGlobalAdmin(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })
	return app, tokens
}

func request(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "case_session", Value: token})
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp.StatusCode
}

func mustToken(t *testing.T, tm *SessionCodec, institutionID, userID int64) string {
	t.Helper()
	token, _, err := tm.Issue(institutionID, userID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestSessionCodec_RoundTrip(t *testing.T) {
	tm := NewSessionCodec("secret", time.Minute)
	token := mustToken(t, tm, 4, 99)

	claims, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.InstitutionID != 4 || claims.UserID != 99 {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := NewSessionCodec("other", time.Minute).Verify(token); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestSessionCodec_RejectsExpired(t *testing.T) {
	tm := NewSessionCodec("secret", time.Minute)
	tm.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token := mustToken(t, tm, 7, 1)
	if _, err := tm.Verify(token); err == nil {
		t.Fatal("expected expired session to be rejected")
	}
}

func TestSessionCodec_RequiresIDs(t *testing.T) {
	tm := NewSessionCodec("secret", time.Minute)
	token := mustToken(t, tm, 0, 1)
	if _, err := tm.Verify(token); err == nil {
		t.Fatal("expected missing institution to be rejected")
	}
}

func TestAuthMiddleware_Session(t *testing.T) {
	app, tm := newAuthApp(t)

	cases := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"missing cookie", "/me", "", http.StatusUnauthorized},
		{"garbage cookie", "/me", "not-a-jwt", http.StatusUnauthorized},
		{"valid agent", "/me", mustToken(t, tm, 7, 11), http.StatusOK},
		{"unknown operator", "/me", mustToken(t, tm, 7, 404), http.StatusUnauthorized},
		{"inactive operator", "/me", mustToken(t, tm, 7, 13), http.StatusUnauthorized},
		{"agent on admin route", "/admin", mustToken(t, tm, 7, 11), http.StatusForbidden},
		{"office admin", "/admin", mustToken(t, tm, 7, 12), http.StatusNoContent},
		{"global admin session", "/admin", mustToken(t, tm, 4, 11), http.StatusNoContent},
		{"tenant admin on global route", "/global", mustToken(t, tm, 7, 12), http.StatusForbidden},
		{"global route", "/global", mustToken(t, tm, 4, 11), http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := request(t, app, tc.path, tc.token); got != tc.want {
				t.Fatalf("status = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_BearerFallback(t *testing.T) {
	app, tm := newAuthApp(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, tm, 7, 11))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
