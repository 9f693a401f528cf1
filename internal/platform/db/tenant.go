package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

// TenantHeader carries the tenant for requests without a tenant claim.
const TenantHeader = "X-Tenant-ID"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id can be used to build a schema name.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// SchemaName returns the PostgreSQL schema holding a tenant's analyses.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

// TenantMiddleware resolves the tenant of a request and pins a pooled
// connection whose search_path points at the tenant schema for the rest of
// the request. With a nil pool the tenant is only recorded on the context.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			c.Set("tenant_id", tenantID)
			if pool == nil {
				c.SetRequest(c.Request().WithContext(WithTenant(ctx, tenantID)))
				return next(c)
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			// The connection goes back to the pool; do not leak the tenant schema.
			defer conn.Exec(context.WithoutCancel(ctx), "RESET search_path") //nolint:errcheck

			ctx = WithTenant(ctx, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// WithTenant returns a context carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the schema for a tenant and applies the
// migrations in fsys to it. A nil fsys only creates the schema.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, fsys fs.FS) (int, error) {
	if !ValidTenantID(tenantID) {
		return 0, fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}
	schema := SchemaName(tenantID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}
	if fsys == nil {
		return 0, nil
	}

	n, err := NewMigrator(pool, fsys).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
