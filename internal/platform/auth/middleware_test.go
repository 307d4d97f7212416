package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret-key-that-is-long-enough-32")

func newTestTokens() *Tokens {
	return NewTokens(TokenConfig{
		Secret:     testSecret,
		Issuer:     "healthsync",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
}

func runJWT(t *testing.T, cfg JWTConfig, authHeader string) (*httptest.ResponseRecorder, string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/appointments")

	var seen string
	h := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = UserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	return rec, seen, h(c)
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", he.Code)
	}
}

func TestJWTMiddleware_ValidAccessToken(t *testing.T) {
	tokens := newTestTokens()
	pair, err := tokens.IssuePair("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, seen, err := runJWT(t, JWTConfig{Tokens: tokens}, "Bearer "+pair.Access)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if seen != "user-1" {
		t.Errorf("expected user-1 in context, got %q", seen)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, _, err := runJWT(t, JWTConfig{Tokens: newTestTokens()}, "")
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_BadFormat(t *testing.T) {
	for _, h := range []string{"Token abc", "Bearer", "Bearer   ", "abc"} {
		t.Run(h, func(t *testing.T) {
			_, _, err := runJWT(t, JWTConfig{Tokens: newTestTokens()}, h)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_RejectsRefreshToken(t *testing.T) {
	tokens := newTestTokens()
	pair, _ := tokens.IssuePair("user-1")

	_, _, err := runJWT(t, JWTConfig{Tokens: tokens}, "Bearer "+pair.Refresh)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	other := NewTokens(TokenConfig{Secret: []byte("another-secret-another-secret-xx"), Issuer: "healthsync", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	pair, _ := other.IssuePair("user-1")

	_, _, err := runJWT(t, JWTConfig{Tokens: newTestTokens()}, "Bearer "+pair.Access)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	tokens := newTestTokens()
	store := NewMemoryRevocationStore(time.Hour)
	defer store.Close()

	pair, _ := tokens.IssuePair("user-1")
	claims, err := tokens.Parse(pair.Access, AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := store.Revoke(context.Background(), claims.ID, claims.Expiry()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, _, err = runJWT(t, JWTConfig{Tokens: tokens, Revocations: store}, "Bearer "+pair.Access)
	assertUnauthorized(t, err)
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != ErrTokenRevoked.Error() {
		t.Errorf("expected %q, got %v", ErrTokenRevoked, he.Message)
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{Tokens: newTestTokens(), Skipper: func(echo.Context) bool { return true }}
	rec, _, err := runJWT(t, cfg, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestClaimsFromContext(t *testing.T) {
	if ClaimsFromContext(context.Background()) != nil {
		t.Error("expected nil claims on empty context")
	}
	claims := &Claims{}
	claims.Subject = "u"
	ctx := WithClaims(context.Background(), claims)
	if ClaimsFromContext(ctx) != claims {
		t.Error("expected claims round trip")
	}
	if UserIDFromContext(ctx) != "u" {
		t.Error("expected user id from claims subject")
	}
}
