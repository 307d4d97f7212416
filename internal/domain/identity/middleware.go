package identity

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/auth"
)

// PrincipalResolver turns a token subject into a Principal.
type PrincipalResolver interface {
	Principal(ctx context.Context, userID string) (Principal, error)
}

// PrincipalMiddleware runs after the JWT middleware. Requests that carry no
// authenticated user (public routes) pass through untouched.
func PrincipalMiddleware(r PrincipalResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			uid := auth.UserIDFromContext(ctx)
			if uid == "" {
				return next(c)
			}
			p, err := r.Principal(ctx, uid)
			if err != nil {
				return err
			}
			c.Set("role", RoleName(p))
			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
			return next(c)
		}
	}
}

// RequireAdmin rejects every principal except Admin.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return apperr.Unauthorized("not_authenticated", "authentication credentials were not provided")
			}
			if err := requireAdmin(p); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// MustPrincipal fetches the caller or fails with Unauthorized.
func MustPrincipal(c echo.Context) (Principal, error) {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return nil, apperr.Unauthorized("not_authenticated", "authentication credentials were not provided")
	}
	return p, nil
}
