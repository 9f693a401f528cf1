package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit returns middleware that limits the request body size.
// batchLimit applies to POSTs on batch endpoints (paths ending in "-batch"),
// defaultLimit to everything else. Limits are written like "1M", "512K" or
// "2G"; a bare number is bytes.
func BodyLimit(defaultLimit string, batchLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	batchBytes := parseLimit(batchLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if req.Method == http.MethodPost && strings.HasSuffix(strings.TrimSuffix(req.URL.Path, "/"), "-batch") {
				limit = batchBytes
			}

			if req.ContentLength > limit {
				return tooLarge(limit)
			}

			// Content-Length may be absent or wrong.
			req.Body = &limitedReadCloser{
				ReadCloser: req.Body,
				remaining:  limit,
				limit:      limit,
			}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, tooLarge(r.limit)
	}

	// One byte past the limit detects overflow.
	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, tooLarge(r.limit)
	}
	return n, err
}

func tooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

// parseLimit parses a size such as "1M", "512K" or "10G" into bytes.
// Empty or unparseable input yields 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}

	s = strings.TrimSuffix(s, "B")
	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * multiplier
}
