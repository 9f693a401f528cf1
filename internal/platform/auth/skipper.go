package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and tenant resolution.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
