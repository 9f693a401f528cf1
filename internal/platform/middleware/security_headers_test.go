package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	ok := func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"status": "ok"}) }
	notFound := func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "analysis not found") }

	tests := []struct {
		name    string
		method  string
		path    string
		handler echo.HandlerFunc
		wantErr int
		wantCSP string
	}{
		{"verdict", http.MethodPost, "/api/v1/guides/analyze", ok, 0, apiCSP},
		{"lookup miss", http.MethodGet, "/api/v1/analyses/7f1b0a4e-1d1c-4c8e-9a51-2b8f3c1d0e11", notFound, http.StatusNotFound, apiCSP},
		{"swagger page", http.MethodGet, "/api/v1/docs", ok, 0, docsCSP},
		{"spec document", http.MethodGet, "/api/v1/openapi.json", ok, 0, apiCSP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := SecurityHeaders()(tt.handler)(c)
			if tt.wantErr == 0 && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != 0 {
				he, isHTTP := err.(*echo.HTTPError)
				if !isHTTP || he.Code != tt.wantErr {
					t.Fatalf("expected HTTP %d, got %v", tt.wantErr, err)
				}
			}

			h := rec.Header()
			if got := h.Get("Content-Security-Policy"); got != tt.wantCSP {
				t.Errorf("Content-Security-Policy = %q, want %q", got, tt.wantCSP)
			}
			if h.Get("Cache-Control") != "no-store" {
				t.Error("guide data must never be cached")
			}
			if h.Get("X-Frame-Options") != "DENY" || h.Get("X-Content-Type-Options") != "nosniff" {
				t.Errorf("framing/sniffing headers missing: %v", h)
			}
			// No browser features are used, so no Permissions-Policy is sent.
			if _, set := h["Permissions-Policy"]; set {
				t.Error("unexpected Permissions-Policy header")
			}
		})
	}
}
