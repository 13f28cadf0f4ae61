package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/voice-receptionist/internal/tenancy"
)

func TestTenantScope(t *testing.T) {
	var got string
	var ok bool
	r := chi.NewRouter()
	handler := func(w http.ResponseWriter, req *http.Request) {
		got, ok = tenancy.TenantIDFromContext(req.Context())
		w.WriteHeader(http.StatusOK)
	}
	r.With(TenantScope).Post("/webhooks/{tenantID}", handler)
	r.With(TenantScope).Post("/v1/tool-call", handler)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/frituur-hoek", nil))
	if !ok || got != "frituur-hoek" {
		t.Fatalf("tenant = %q, %v", got, ok)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/tool-call", nil))
	if ok {
		t.Fatalf("expected no tenant on a route without the parameter, got %q", got)
	}
}
