package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-receptionist/internal/commit"
	"github.com/wolfman30/voice-receptionist/internal/receptionist"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

type fakeReceptionist struct {
	turns  []receptionist.Turn
	events []receptionist.LifecycleEvent
	reply  receptionist.Reply
	err    error
}

func (f *fakeReceptionist) HandleTurn(_ context.Context, turn receptionist.Turn) (receptionist.Reply, error) {
	f.turns = append(f.turns, turn)
	return f.reply, f.err
}

func (f *fakeReceptionist) HandleLifecycle(_ context.Context, ev receptionist.LifecycleEvent) (receptionist.Reply, error) {
	f.events = append(f.events, ev)
	return f.reply, f.err
}

type latencyRecorder struct{ sources []string }

func (l *latencyRecorder) ObserveWebhookLatency(source string, _ float64) {
	l.sources = append(l.sources, source)
}

func newTestRouter(fake *fakeReceptionist, verifier *WebhookVerifier, metrics LatencyObserver) http.Handler {
	h := NewVoiceHandler(VoiceHandlerConfig{Receptionist: fake, Verifier: verifier, Metrics: metrics, Logger: logging.Discard()})
	r := chi.NewRouter()
	r.Post("/v1/tool-call", h.HandleToolCall)
	r.Post("/v1/call-events", h.HandleCallEvent)
	r.Post("/webhooks/telnyx/voice-ai/{tenantID}", h.HandleTelnyxVoiceAI)
	r.Post("/webhooks/retell/{tenantID}", h.HandleRetell)
	return r
}

func post(t *testing.T, h http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestToolCallReturnsUtteranceAndState(t *testing.T) {
	fake := &fakeReceptionist{reply: receptionist.Reply{Utterance: "Afhalen of leveren?", State: session.StateCollectingDelivery}}
	metrics := &latencyRecorder{}
	router := newTestRouter(fake, nil, metrics)

	rec := post(t, router, "/v1/tool-call", mustJSON(t, ToolCallRequest{
		CallID: "abc", TenantID: "hoek", TranscriptTurn: "ik wil twee grote friet", CallerNumber: "+32470123456",
	}), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ToolCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Afhalen of leveren?", resp.UtteranceText)
	assert.Equal(t, "COLLECTING_DELIVERY", resp.SessionState)
	require.Len(t, fake.turns, 1)
	assert.Equal(t, receptionist.Turn{CallID: "abc", TenantID: "hoek", Transcript: "ik wil twee grote friet", CallerNumber: "+32470123456"}, fake.turns[0])
	assert.Equal(t, []string{"normalized"}, metrics.sources)
}

func TestToolCallErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing ids", receptionist.ErrInvalidRequest, http.StatusBadRequest},
		{"unknown tenant", tenancy.ErrTenantNotFound, http.StatusNotFound},
		{"foreign call", session.ErrTenantMismatch, http.StatusNotFound},
		{"finished call", session.ErrTerminal, http.StatusConflict},
		{"storage down", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeReceptionist{err: tt.err, reply: receptionist.Reply{Utterance: "Tot ziens.", State: session.StateDone}}
			rec := post(t, newTestRouter(fake, nil, nil), "/v1/tool-call", []byte(`{"call_id":"abc","tenant_id":"hoek"}`), nil)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusConflict {
				assert.Contains(t, rec.Body.String(), `"session_state":"DONE"`)
			}
		})
	}
}

func TestMalformedPayloadNeverReachesCore(t *testing.T) {
	fake := &fakeReceptionist{}
	router := newTestRouter(fake, nil, nil)
	for _, path := range []string{"/v1/tool-call", "/v1/call-events", "/webhooks/telnyx/voice-ai/hoek", "/webhooks/retell/hoek"} {
		rec := post(t, router, path, []byte(`{"call_id":`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	assert.Empty(t, fake.turns)
	assert.Empty(t, fake.events)
}

func TestCallEventForwardsSummary(t *testing.T) {
	fake := &fakeReceptionist{reply: receptionist.Reply{State: session.StateDone, Result: &commit.Result{ID: "order-1"}}}
	body := []byte(`{"event":"ended","call_id":"abc","tenant_id":"hoek","duration_seconds":95,
		"structured_summary":{"customer_name":"Jan","items":["Grote friet"]}}`)

	rec := post(t, newTestRouter(fake, nil, nil), "/v1/call-events", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CallEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Committed)
	assert.Equal(t, "order-1", resp.ResultID)
	require.Len(t, fake.events, 1)
	ev := fake.events[0]
	assert.Equal(t, receptionist.EventEnded, ev.Event)
	assert.Equal(t, 95.0, ev.DurationSeconds)
	assert.JSONEq(t, `"Jan"`, string(ev.Summary["customer_name"]))
}

func TestTelnyxToolCall(t *testing.T) {
	fake := &fakeReceptionist{reply: receptionist.Reply{Utterance: "Op welke naam?", State: session.StateCollectingName}}
	event := VoiceAIEvent{
		ConversationID: "conv-1",
		EventType:      "tool_call",
		From:           "0032 470 12 34 56",
		Payload: VoiceAIPayload{
			ToolName:   "take_order",
			ToolCallID: "tc-9",
			Arguments:  map[string]string{"transcript": " afhalen "},
		},
	}

	rec := post(t, newTestRouter(fake, nil, nil), "/webhooks/telnyx/voice-ai/hoek", mustJSON(t, event), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp VoiceAIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tc-9", resp.ToolCallID)
	assert.Equal(t, "Op welke naam?", resp.Response)
	require.Len(t, fake.turns, 1)
	assert.Equal(t, receptionist.Turn{CallID: "conv-1", TenantID: "hoek", Transcript: "afhalen", CallerNumber: "+32470123456"}, fake.turns[0])
}

func TestTelnyxConversationEndedIsLifecycle(t *testing.T) {
	fake := &fakeReceptionist{reply: receptionist.Reply{State: session.StateCollectingPhone}}
	body := []byte(`{"conversation_id":"conv-1","event_type":"conversation.ended","payload":{"duration_seconds":42}}`)

	rec := post(t, newTestRouter(fake, nil, nil), "/webhooks/telnyx/voice-ai/hoek", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.events, 1)
	assert.Equal(t, receptionist.EventEnded, fake.events[0].Event)
	assert.Equal(t, 42.0, fake.events[0].DurationSeconds)
	assert.Empty(t, fake.turns)
}

func TestTelnyxSignatureVerification(t *testing.T) {
	verifier := NewWebhookVerifier("topsecret", time.Minute)
	fake := &fakeReceptionist{reply: receptionist.Reply{Utterance: "Goeiedag", State: session.StateGreeting}}
	router := newTestRouter(fake, verifier, nil)
	body := []byte(`{"conversation_id":"conv-1","event_type":"tool_call","payload":{"arguments":{"transcript":"hallo"}}}`)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(ts + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	rec := post(t, router, "/webhooks/telnyx/voice-ai/hoek", body, map[string]string{"Telnyx-Timestamp": ts, "Telnyx-Signature": sig})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, router, "/webhooks/telnyx/voice-ai/hoek", body, map[string]string{"Telnyx-Timestamp": ts, "Telnyx-Signature": "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, router, "/webhooks/telnyx/voice-ai/hoek", body, map[string]string{"Telnyx-Timestamp": "100", "Telnyx-Signature": sig})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, fake.turns, 1)
}

func TestNewWebhookVerifierNilWithoutSecret(t *testing.T) {
	assert.Nil(t, NewWebhookVerifier(" ", time.Minute))
}

func TestRetellLifecycle(t *testing.T) {
	fake := &fakeReceptionist{reply: receptionist.Reply{State: session.StateDone, Result: &commit.Result{ID: "appt-1"}}}
	body := []byte(`{"event":"call_analyzed","call":{"call_id":"rt-1","from_number":"+32470123456",
		"start_timestamp":1760000000000,"end_timestamp":1760000090500,"transcript":"...",
		"call_analysis":{"custom_analysis_data":{"service":"Knippen dames","date":"2026-10-16","time":"14:30"}}}}`)

	rec := post(t, newTestRouter(fake, nil, nil), "/webhooks/retell/salon", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.events, 1)
	ev := fake.events[0]
	assert.Equal(t, receptionist.EventAnalyzed, ev.Event)
	assert.Equal(t, "salon", ev.TenantID)
	assert.Equal(t, "rt-1", ev.CallID)
	assert.InDelta(t, 90.5, ev.DurationSeconds, 0.001)
	assert.Len(t, ev.Summary, 3)
}

func TestRetellIgnoresOtherEvents(t *testing.T) {
	fake := &fakeReceptionist{}
	rec := post(t, newTestRouter(fake, nil, nil), "/webhooks/retell/salon", []byte(`{"event":"transcript_updated","call":{"call_id":"rt-1"}}`), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, fake.events)
}
