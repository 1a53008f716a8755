package tenant

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-reception/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-reception/internal/shared"
)

// HeaderTenantID carries the tenant resolved by the gateway.
const HeaderTenantID = "X-Tenant-ID"

type tenantContextKey struct{}

// ContextWithTenant stores the tenant id in context.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// FromContext extracts the tenant id from context.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(int64)
	return id, ok && id > 0
}

// Middleware rejects requests without a valid tenant header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", shared.ErrTenantRequired.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithTenant(r.Context(), id)))
	})
}
