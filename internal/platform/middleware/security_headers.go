package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// securityHeaders are set on every response of the JSON API. Responses
// carry beneficiary data and must not be cached or framed.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", apiCSP},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

const (
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	// docsCSP lets the Swagger UI page load its bundle and fetch the spec.
	docsCSP = "default-src 'none'; script-src 'unsafe-inline' https://unpkg.com; " +
		"style-src 'unsafe-inline' https://unpkg.com; img-src data: https:; " +
		"connect-src 'self'; frame-ancestors 'none'"
)

func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			if strings.HasSuffix(c.Request().URL.Path, "/docs") {
				h.Set("Content-Security-Policy", docsCSP)
			}
			return next(c)
		}
	}
}
