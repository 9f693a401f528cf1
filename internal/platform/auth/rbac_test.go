package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(t *testing.T, roles []string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if roles != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	return rec, RequireRole(required...)(handler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runWithRoles(t, []string{RoleBilling}, RoleBilling, RoleAuditor)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runWithRoles(t, []string{RoleAuditor}, RoleBilling)
	if err == nil {
		t.Fatal("expected error for unauthorized role")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if _, err := runWithRoles(t, nil, RoleAuditor); err == nil {
		t.Error("expected error without roles")
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if _, err := runWithRoles(t, []string{RoleAdmin}, RoleBilling); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		want     bool
	}{
		{"match", []string{"billing"}, []string{"billing"}, true},
		{"any of", []string{"auditor"}, []string{"billing", "auditor"}, true},
		{"admin", []string{"admin"}, []string{"billing"}, true},
		{"none", []string{"auditor"}, []string{"billing"}, false},
		{"empty", nil, []string{"billing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasRole(tt.granted, tt.required...); got != tt.want {
				t.Errorf("HasRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}
