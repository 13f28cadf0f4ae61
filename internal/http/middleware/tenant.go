package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/voice-receptionist/internal/tenancy"
)

// TenantScope copies the {tenantID} route parameter into the request
// context. Routes without the parameter pass through unchanged.
func TenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID")); tenantID != "" {
			r = r.WithContext(tenancy.WithTenantID(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}
