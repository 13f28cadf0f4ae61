package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should allow two requests")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other keys have their own bucket")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill over time")
	}
	if n := rl.Evict(now.Add(time.Minute)); n != 2 {
		t.Fatalf("evicted %d buckets", n)
	}
}

func TestRateLimitKeysByTenant(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	r := chi.NewRouter()
	r.With(TenantScope, rl.Middleware).Post("/webhooks/{tenantID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	codes := []int{}
	for _, path := range []string{"/webhooks/a", "/webhooks/a", "/webhooks/b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}
