package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/voice-receptionist/internal/receptionist"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// ErrMalformedPayload is returned for bodies that cannot be decoded into a
// known request shape.
var ErrMalformedPayload = errors.New("handlers: malformed payload")

const maxBodyBytes = 1 << 20

// Receptionist is the call-session core the webhooks feed.
type Receptionist interface {
	HandleTurn(ctx context.Context, turn receptionist.Turn) (receptionist.Reply, error)
	HandleLifecycle(ctx context.Context, ev receptionist.LifecycleEvent) (receptionist.Reply, error)
}

// LatencyObserver records webhook processing time per provider.
type LatencyObserver interface {
	ObserveWebhookLatency(source string, seconds float64)
}

// VoiceHandler adapts voice-platform webhooks to the receptionist core.
// Each provider shape is translated into a receptionist.Turn or
// receptionist.LifecycleEvent; nothing downstream sees provider payloads.
type VoiceHandler struct {
	receptionist Receptionist
	verifier     *WebhookVerifier
	metrics      LatencyObserver
	logger       *logging.Logger
}

type VoiceHandlerConfig struct {
	Receptionist Receptionist
	// Verifier checks Telnyx signatures when set.
	Verifier *WebhookVerifier
	Metrics  LatencyObserver
	Logger   *logging.Logger
}

func NewVoiceHandler(cfg VoiceHandlerConfig) *VoiceHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &VoiceHandler{
		receptionist: cfg.Receptionist,
		verifier:     cfg.Verifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// ToolCallRequest is the normalized per-turn request.
type ToolCallRequest struct {
	CallID         string `json:"call_id"`
	TenantID       string `json:"tenant_id"`
	TranscriptTurn string `json:"transcript_turn"`
	CallerNumber   string `json:"caller_number,omitempty"`
}

type ToolCallResponse struct {
	UtteranceText string `json:"utterance_text"`
	SessionState  string `json:"session_state"`
}

// CallEventRequest is the normalized call-lifecycle webhook.
type CallEventRequest struct {
	Event             string                     `json:"event"`
	CallID            string                     `json:"call_id"`
	TenantID          string                     `json:"tenant_id"`
	CallerNumber      string                     `json:"caller_number,omitempty"`
	DurationSeconds   float64                    `json:"duration_seconds,omitempty"`
	Transcript        string                     `json:"transcript,omitempty"`
	StructuredSummary map[string]json.RawMessage `json:"structured_summary,omitempty"`
}

type CallEventResponse struct {
	SessionState string `json:"session_state,omitempty"`
	ResultID     string `json:"result_id,omitempty"`
	Committed    bool   `json:"committed"`
}

type errorResponse struct {
	Error         string `json:"error"`
	SessionState  string `json:"session_state,omitempty"`
	UtteranceText string `json:"utterance_text,omitempty"`
}

// HandleToolCall serves POST /v1/tool-call.
func (h *VoiceHandler) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	defer h.observe("normalized", time.Now())

	var req ToolCallRequest
	if err := decodeBody(r, &req); err != nil {
		h.logger.Warn("tool-call: bad payload", "error", err)
		writeError(w, err, receptionist.Reply{})
		return
	}
	reply, err := h.receptionist.HandleTurn(r.Context(), receptionist.Turn{
		CallID:       req.CallID,
		TenantID:     req.TenantID,
		Transcript:   req.TranscriptTurn,
		CallerNumber: req.CallerNumber,
	})
	if err != nil {
		h.logError("tool-call", err, req.TenantID, req.CallID)
		writeError(w, err, reply)
		return
	}
	writeJSON(w, http.StatusOK, ToolCallResponse{UtteranceText: reply.Utterance, SessionState: string(reply.State)})
}

// HandleCallEvent serves POST /v1/call-events.
func (h *VoiceHandler) HandleCallEvent(w http.ResponseWriter, r *http.Request) {
	defer h.observe("normalized", time.Now())

	var req CallEventRequest
	if err := decodeBody(r, &req); err != nil {
		h.logger.Warn("call-event: bad payload", "error", err)
		writeError(w, err, receptionist.Reply{})
		return
	}
	h.lifecycle(w, r, receptionist.LifecycleEvent{
		Event:           receptionist.EventType(req.Event),
		CallID:          req.CallID,
		TenantID:        req.TenantID,
		CallerNumber:    req.CallerNumber,
		DurationSeconds: req.DurationSeconds,
		Transcript:      req.Transcript,
		Summary:         req.StructuredSummary,
	})
}

func (h *VoiceHandler) lifecycle(w http.ResponseWriter, r *http.Request, ev receptionist.LifecycleEvent) {
	reply, err := h.receptionist.HandleLifecycle(r.Context(), ev)
	if err != nil {
		h.logError("call-event", err, ev.TenantID, ev.CallID)
		writeError(w, err, reply)
		return
	}
	resp := CallEventResponse{SessionState: string(reply.State)}
	if reply.Result != nil {
		resp.ResultID = reply.Result.ID
		resp.Committed = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *VoiceHandler) observe(source string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveWebhookLatency(source, time.Since(start).Seconds())
	}
}

func (h *VoiceHandler) logError(op string, err error, tenantID, callID string) {
	if statusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op+": failed", "error", err, "tenant_id", tenantID, "call_id", callID)
		return
	}
	h.logger.Warn(op+": rejected", "error", err, "tenant_id", tenantID, "call_id", callID)
}

// routeTenant prefers the tenant scoped by the router and falls back to the
// route parameter when the handler is mounted without that middleware.
func routeTenant(r *http.Request) string {
	if tenantID, ok := tenancy.TenantIDFromContext(r.Context()); ok {
		return tenantID
	}
	return chi.URLParam(r, "tenantID")
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMalformedPayload, err)
	}
	return body, nil
}

func decodeBody(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return decodeBytes(body, dst)
}

func decodeBytes(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// statusFor maps core errors onto HTTP status codes. Only boundary
// problems are client errors; everything else in a turn is recovered by
// the core before it gets here.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, receptionist.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, tenancy.ErrTenantNotFound), errors.Is(err, session.ErrTenantMismatch):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, reply receptionist.Reply) {
	status := statusFor(err)
	resp := errorResponse{Error: http.StatusText(status)}
	switch status {
	case http.StatusBadRequest:
		resp.Error = err.Error()
	case http.StatusNotFound:
		resp.Error = "tenant or call not found"
	case http.StatusConflict:
		resp.Error = "call already finished"
		resp.SessionState = string(reply.State)
		resp.UtteranceText = reply.Utterance
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
