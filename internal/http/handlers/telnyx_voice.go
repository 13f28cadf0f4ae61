package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/extraction"
	"github.com/wolfman30/voice-receptionist/internal/receptionist"
)

// VoiceAIEvent is the Telnyx AI Assistant webhook payload. The assistant
// calls our webhook tool with the caller's latest utterance and speaks
// whatever we return.
type VoiceAIEvent struct {
	AssistantID string `json:"assistant_id,omitempty"`
	// ConversationID identifies the call; it is the session key.
	ConversationID string `json:"conversation_id,omitempty"`
	// EventType is "tool_call" for turns; conversation end events carry
	// the assistant's own summary.
	EventType string         `json:"event_type,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Payload   VoiceAIPayload `json:"payload,omitempty"`
}

type VoiceAIPayload struct {
	ToolName string `json:"tool_name,omitempty"`
	// ToolCallID must be echoed back so Telnyx can correlate the result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Arguments carries "transcript" for tool calls.
	Arguments       map[string]string          `json:"arguments,omitempty"`
	DurationSeconds float64                    `json:"duration_seconds,omitempty"`
	Transcript      string                     `json:"transcript,omitempty"`
	Insights        map[string]json.RawMessage `json:"insights,omitempty"`
}

// VoiceAIResponse is spoken by the assistant's TTS engine.
type VoiceAIResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Response   string `json:"response"`
	State      string `json:"session_state,omitempty"`
}

var telnyxEndEvents = map[string]receptionist.EventType{
	"conversation.ended":    receptionist.EventEnded,
	"conversation.analyzed": receptionist.EventAnalyzed,
	"call.hangup":           receptionist.EventEnded,
}

// HandleTelnyxVoiceAI serves POST /webhooks/telnyx/voice-ai/{tenantID}.
func (h *VoiceHandler) HandleTelnyxVoiceAI(w http.ResponseWriter, r *http.Request) {
	defer h.observe("telnyx", time.Now())

	body, err := readBody(r)
	if err != nil {
		writeError(w, err, receptionist.Reply{})
		return
	}
	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body); err != nil {
			h.logger.Warn("voice-ai: signature rejected", "error", err)
			writeError(w, err, receptionist.Reply{})
			return
		}
	}
	var event VoiceAIEvent
	if err := decodeBytes(body, &event); err != nil {
		h.logger.Warn("voice-ai: bad payload", "error", err)
		writeError(w, err, receptionist.Reply{})
		return
	}

	tenantID := routeTenant(r)
	callID := strings.TrimSpace(event.ConversationID)
	caller := extraction.NormalizePhone(event.From)

	h.logger.Info("voice-ai: received event",
		"event_type", event.EventType,
		"assistant_id", event.AssistantID,
		"call_id", callID,
		"tenant_id", tenantID,
		"tool_name", event.Payload.ToolName,
	)

	if kind, ok := telnyxEndEvents[event.EventType]; ok {
		h.lifecycle(w, r, receptionist.LifecycleEvent{
			Event:           kind,
			CallID:          callID,
			TenantID:        tenantID,
			CallerNumber:    caller,
			DurationSeconds: event.Payload.DurationSeconds,
			Transcript:      event.Payload.Transcript,
			Summary:         extraction.Summary(event.Payload.Insights),
		})
		return
	}

	reply, err := h.receptionist.HandleTurn(r.Context(), receptionist.Turn{
		CallID:       callID,
		TenantID:     tenantID,
		Transcript:   strings.TrimSpace(event.Payload.Arguments["transcript"]),
		CallerNumber: caller,
	})
	if err != nil {
		h.logError("voice-ai", err, tenantID, callID)
		if statusFor(err) == http.StatusConflict {
			// The assistant still needs something to say on a replayed turn.
			writeJSON(w, http.StatusConflict, VoiceAIResponse{ToolCallID: event.Payload.ToolCallID, Response: reply.Utterance, State: string(reply.State)})
			return
		}
		writeError(w, err, reply)
		return
	}
	writeJSON(w, http.StatusOK, VoiceAIResponse{
		ToolCallID: event.Payload.ToolCallID,
		Response:   reply.Utterance,
		State:      string(reply.State),
	})
}
