package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

func newMockService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	return NewService(mock, "test-secret"), mock
}

func TestLoginSuccess(t *testing.T) {
	svc, mock := newMockService(t)
	defer mock.Close()

	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT id, company_id, password_hash FROM users`).
		WithArgs("rep@acme.test").
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "password_hash"}).
			AddRow("user-1", "company-1", string(hash)))

	pair, err := svc.Login(context.Background(), "rep@acme.test", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}

	claims, err := svc.parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != "user-1" || claims.CompanyID != "company-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, mock := newMockService(t)
	defer mock.Close()

	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT id, company_id, password_hash FROM users`).
		WithArgs("rep@acme.test").
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "password_hash"}).
			AddRow("user-1", "company-1", string(hash)))

	if _, err := svc.Login(context.Background(), "rep@acme.test", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc, mock := newMockService(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, company_id, password_hash FROM users`).
		WithArgs("nobody@acme.test").
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "password_hash"}))

	if _, err := svc.Login(context.Background(), "nobody@acme.test", "x"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	svc, mock := newMockService(t)
	defer mock.Close()

	pair, err := svc.issuePair("user-1", "company-1")
	if err != nil {
		t.Fatalf("issuePair: %v", err)
	}

	next, err := svc.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := svc.parse(next.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected user: %q", claims.UserID)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, mock := newMockService(t)
	defer mock.Close()

	if _, err := svc.Refresh("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTMiddleware(t *testing.T) {
	svc, mock := newMockService(t)
	defer mock.Close()

	app := fiber.New()
	app.Get("/protected", JWTMiddleware(svc), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id")})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	pair, err := svc.issuePair("user-1", "company-1")
	if err != nil {
		t.Fatalf("issuePair: %v", err)
	}
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestBearerFromHeader(t *testing.T) {
	if got := bearerFromHeader("Bearer abc"); got != "abc" {
		t.Fatalf("unexpected token: %q", got)
	}
	if got := bearerFromHeader("Basic abc"); got != "" {
		t.Fatalf("expected empty for non-bearer, got %q", got)
	}
	if got := bearerFromHeader(""); got != "" {
		t.Fatalf("expected empty for missing header, got %q", got)
	}
}
