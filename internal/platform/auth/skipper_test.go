package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper_PublicPaths(t *testing.T) {
	publicPaths := []string{
		"/health",
		"/health/db",
		"/users/register",
		"/users/register/",
		"/auth/token",
		"/auth/token/",
		"/auth/token/refresh/",
		"/auth/token/verify/",
	}

	for _, path := range publicPaths {
		t.Run(path, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, path, nil)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetPath(path)

			if !AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return true for %s", path)
			}
		})
	}
}

func TestAuthSkipper_ProtectedPaths(t *testing.T) {
	protectedPaths := []string{
		"/",
		"/appointments",
		"/appointments/:id/",
		"/appointments/count/",
		"/users/profile/",
		"/auth/logout/",
		"/doctors/",
	}

	for _, path := range protectedPaths {
		t.Run(path, func(t *testing.T) {
			if IsPublicPath(path) {
				t.Errorf("expected %s to require auth", path)
			}
		})
	}
}
