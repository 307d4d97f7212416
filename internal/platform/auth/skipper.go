package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths reachable without a bearer token: health
// checks plus the endpoints that hand out or check tokens.
var publicPaths = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/users/register":     true,
	"/auth/token":         true,
	"/auth/token/refresh": true,
	"/auth/token/verify":  true,
}

// AuthSkipper returns true for requests whose matched route is public.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is public. A trailing slash is ignored.
func IsPublicPath(path string) bool {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return publicPaths[path]
}
