package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/voice-receptionist/internal/http/handlers"
	"github.com/wolfman30/voice-receptionist/internal/receptionist"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

type echoReceptionist struct{}

func (echoReceptionist) HandleTurn(_ context.Context, turn receptionist.Turn) (receptionist.Reply, error) {
	return receptionist.Reply{Utterance: "echo: " + turn.Transcript, State: session.StateCollectingItems}, nil
}

func (echoReceptionist) HandleLifecycle(_ context.Context, _ receptionist.LifecycleEvent) (receptionist.Reply, error) {
	return receptionist.Reply{State: session.StateDone}, nil
}

func newTestRouter(t *testing.T, rateLimit float64) http.Handler {
	t.Helper()
	logger := logging.Discard()
	return New(&Config{
		Logger:           logger,
		Voice:            handlers.NewVoiceHandler(handlers.VoiceHandlerConfig{Receptionist: echoReceptionist{}, Logger: logger}),
		Health:           handlers.NewHealthHandler(nil),
		MetricsHandler:   promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		WebhookRateLimit: rateLimit,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, 0)

	for _, path := range []string{"/health", "/ready"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d", path, http.StatusOK, rr.Code)
		}
		var resp map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}
		if resp["status"] != "ok" {
			t.Errorf("expected status 'ok', got %q", resp["status"])
		}
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, 0).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterRoutesVoiceEndpoints(t *testing.T) {
	router := newTestRouter(t, 0)
	tests := []struct {
		path string
		body string
	}{
		{"/v1/tool-call", `{"call_id":"abc","tenant_id":"hoek","transcript_turn":"hallo"}`},
		{"/v1/call-events", `{"event":"ended","call_id":"abc","tenant_id":"hoek"}`},
		{"/webhooks/telnyx/voice-ai/hoek", `{"conversation_id":"abc","event_type":"tool_call"}`},
		{"/webhooks/retell/hoek", `{"event":"call_ended","call":{"call_id":"abc"}}`},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body)))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status %d, got %d (%s)", tt.path, http.StatusOK, rr.Code, rr.Body.String())
		}
	}
}

func TestRouterRateLimitsWebhooksPerTenant(t *testing.T) {
	router := newTestRouter(t, 1)
	body := `{"event":"call_ended","call":{"call_id":"abc"}}`
	limited := false
	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/retell/hoek", bytes.NewBufferString(body)))
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected webhook requests to be rate limited")
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/retell/plein", bytes.NewBufferString(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("other tenant should not be limited, got %d", rr.Code)
	}
}
