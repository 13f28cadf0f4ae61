package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/extraction"
	"github.com/wolfman30/voice-receptionist/internal/receptionist"
)

// RetellEvent is a Retell call webhook.
type RetellEvent struct {
	Event string     `json:"event"`
	Call  RetellCall `json:"call"`
}

type RetellCall struct {
	CallID         string              `json:"call_id"`
	FromNumber     string              `json:"from_number,omitempty"`
	ToNumber       string              `json:"to_number,omitempty"`
	StartTimestamp int64               `json:"start_timestamp,omitempty"`
	EndTimestamp   int64               `json:"end_timestamp,omitempty"`
	Transcript     string              `json:"transcript,omitempty"`
	CallAnalysis   *RetellCallAnalysis `json:"call_analysis,omitempty"`
}

type RetellCallAnalysis struct {
	CallSummary        string                     `json:"call_summary,omitempty"`
	CustomAnalysisData map[string]json.RawMessage `json:"custom_analysis_data,omitempty"`
}

var retellEvents = map[string]receptionist.EventType{
	"call_started":  receptionist.EventStarted,
	"call_ended":    receptionist.EventEnded,
	"call_analyzed": receptionist.EventAnalyzed,
}

// DurationSeconds derives the call length from the millisecond timestamps.
func (c RetellCall) DurationSeconds() float64 {
	if c.StartTimestamp <= 0 || c.EndTimestamp <= c.StartTimestamp {
		return 0
	}
	return float64(c.EndTimestamp-c.StartTimestamp) / 1000
}

// HandleRetell serves POST /webhooks/retell/{tenantID}.
func (h *VoiceHandler) HandleRetell(w http.ResponseWriter, r *http.Request) {
	defer h.observe("retell", time.Now())

	var event RetellEvent
	if err := decodeBody(r, &event); err != nil {
		h.logger.Warn("retell: bad payload", "error", err)
		writeError(w, err, receptionist.Reply{})
		return
	}
	kind, ok := retellEvents[event.Event]
	if !ok {
		// Retell sends other event kinds we do not act on.
		h.logger.Debug("retell: ignoring event", "event", event.Event, "call_id", event.Call.CallID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ev := receptionist.LifecycleEvent{
		Event:           kind,
		CallID:          event.Call.CallID,
		TenantID:        routeTenant(r),
		CallerNumber:    extraction.NormalizePhone(event.Call.FromNumber),
		DurationSeconds: event.Call.DurationSeconds(),
		Transcript:      event.Call.Transcript,
	}
	if event.Call.CallAnalysis != nil {
		ev.Summary = extraction.Summary(event.Call.CallAnalysis.CustomAnalysisData)
	}
	h.lifecycle(w, r, ev)
}
