package receptionist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/voice-receptionist/internal/extraction"
	"github.com/wolfman30/voice-receptionist/internal/response"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/transcript"
)

// EventType is a call-lifecycle event from the voice platform.
type EventType string

const (
	EventStarted  EventType = "started"
	EventEnded    EventType = "ended"
	EventAnalyzed EventType = "analyzed"
)

// Valid reports whether e is a known lifecycle event.
func (e EventType) Valid() bool {
	return e == EventStarted || e == EventEnded || e == EventAnalyzed
}

// LifecycleEvent is a call-lifecycle webhook in provider-neutral form.
type LifecycleEvent struct {
	Event           EventType
	CallID          string
	TenantID        string
	CallerNumber    string
	DurationSeconds float64
	Transcript      string
	// Summary holds final slot values when the platform ran its own
	// end-of-call extraction.
	Summary extraction.Summary
}

// HandleLifecycle records call start and end. An end event carrying a
// structured summary is applied as the call's final turn and committed
// directly; an end event for a confirmed but uncommitted session retries
// its commit. Replays of an end event for a finished call are no-ops.
func (s *Service) HandleLifecycle(ctx context.Context, ev LifecycleEvent) (Reply, error) {
	ev.CallID = strings.TrimSpace(ev.CallID)
	ev.TenantID = strings.TrimSpace(ev.TenantID)
	if ev.CallID == "" || ev.TenantID == "" {
		return Reply{}, fmt.Errorf("%w: call_id and tenant_id are required", ErrInvalidRequest)
	}
	if !ev.Event.Valid() {
		return Reply{}, fmt.Errorf("%w: unknown event %q", ErrInvalidRequest, ev.Event)
	}

	ctx, span := tracer.Start(ctx, "receptionist.lifecycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", ev.TenantID),
		attribute.String("call_id", ev.CallID),
		attribute.String("event", string(ev.Event)),
	)

	tenant, err := s.resolve(ctx, ev.TenantID)
	if err != nil {
		return Reply{}, err
	}
	log := s.logger.WithCall(tenant.ID, ev.CallID)

	if ev.Event == EventStarted {
		sess, err := s.getOrCreate(ctx, tenant, ev.CallID, ev.CallerNumber)
		if err != nil {
			return Reply{}, err
		}
		log.Info("call started", "state", sess.State)
		return Reply{Utterance: response.Render(sess.State, sess.Collected, tenant.DisplayName), State: sess.State}, nil
	}

	if strings.TrimSpace(ev.Transcript) != "" {
		s.record(ctx, log, tenant.ID, ev.CallID, transcript.Entry{
			Role:      transcript.RoleProvider,
			Text:      ev.Transcript,
			Timestamp: s.now().UTC(),
		})
	}

	var sess *session.Session
	if len(ev.Summary) > 0 {
		sess, err = s.getOrCreate(ctx, tenant, ev.CallID, ev.CallerNumber)
	} else {
		sess, err = s.get(ctx, ev.CallID, tenant.ID)
	}
	if errors.Is(err, session.ErrNotFound) {
		log.Info("call ended without a session", "event", ev.Event)
		return Reply{}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	if sess.Terminal() {
		s.settle(ctx, sess, ev)
		log.Info("lifecycle event for finished call ignored", "event", ev.Event, "state", sess.State)
		return Reply{Utterance: response.Render(sess.State, sess.Collected, tenant.DisplayName), State: sess.State}, nil
	}

	if len(ev.Summary) > 0 && sess.State != session.StateConfirmed {
		ents := s.extractor.FromSummary(ev.Summary, s.extractionRequest(tenant, sess, ""))
		var out session.Outcome
		sess, err = s.mutate(ctx, sess, func(working *session.Session) error {
			if working.CallerNumber == "" {
				working.CallerNumber = strings.TrimSpace(ev.CallerNumber)
			}
			var finErr error
			out, finErr = s.machine.Finalize(working, ents)
			return finErr
		})
		if errors.Is(err, session.ErrTerminal) {
			return Reply{State: sess.State}, nil
		}
		if err != nil {
			return Reply{}, fmt.Errorf("receptionist: save session: %w", err)
		}
		log.Info("call summary applied", "from", out.From, "to", out.To, "applied", out.Applied)
	}

	reply := Reply{State: sess.State}
	if sess.State == session.StateConfirmed {
		duration := sess.Duration()
		if ev.DurationSeconds > 0 {
			duration = time.Duration(ev.DurationSeconds * float64(time.Second))
		}
		sess, reply.Result = s.commit(ctx, tenant, sess, duration, log)
		reply.State = sess.State
		s.settle(ctx, sess, ev)
	} else {
		log.Info("call ended before confirmation; nothing committed", "event", ev.Event, "state", sess.State)
	}
	reply.Utterance = response.Render(sess.State, sess.Collected, tenant.DisplayName)
	if s.metrics != nil {
		s.metrics.ObserveTurn(string(sess.Flow), string(reply.State))
	}
	return reply, nil
}

// settle replaces the seconds counted when a committed call was confirmed
// mid-conversation with the length the platform reported.
func (s *Service) settle(ctx context.Context, sess *session.Session, ev LifecycleEvent) {
	if sess.State != session.StateDone || ev.DurationSeconds <= 0 {
		return
	}
	s.committer.SettleUsage(ctx, sess, time.Duration(ev.DurationSeconds*float64(time.Second)))
}
