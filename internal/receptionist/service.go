// Package receptionist runs one caller turn end to end: resolve the
// tenant, load the call's session, extract entities, advance the state
// machine, render the reply, persist, and commit confirmed results.
package receptionist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/voice-receptionist/internal/commit"
	"github.com/wolfman30/voice-receptionist/internal/extraction"
	"github.com/wolfman30/voice-receptionist/internal/response"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/slots"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/internal/transcript"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

var tracer = otel.Tracer("voice-receptionist.receptionist")

// ErrInvalidRequest is returned when a request lacks a call or tenant id,
// or names an unknown lifecycle event.
var ErrInvalidRequest = errors.New("receptionist: invalid request")

const (
	defaultStorageTimeout = 3 * time.Second
	maxSaveAttempts       = 3
)

// TenantResolver loads tenant configuration.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
}

// EntityExtractor turns a transcript turn into entities.
type EntityExtractor interface {
	Extract(ctx context.Context, req extraction.Request) extraction.Result
	FromSummary(summary extraction.Summary, req extraction.Request) slots.Entities
}

// ResultCommitter persists confirmed sessions and settles their usage once
// the platform reports how long the call lasted.
type ResultCommitter interface {
	Commit(ctx context.Context, sess *session.Session, callDuration time.Duration) (*commit.Result, error)
	SettleUsage(ctx context.Context, sess *session.Session, reported time.Duration)
}

// TranscriptLog keeps an audit trail of each call.
type TranscriptLog interface {
	Append(ctx context.Context, tenantID, callID string, entries ...transcript.Entry) error
}

// Metrics receives per-turn observations.
type Metrics interface {
	ObserveTurn(flow, state string)
	ObserveExtraction(strategies []string)
}

// Turn is one caller utterance in provider-neutral form.
type Turn struct {
	CallID       string
	TenantID     string
	Transcript   string
	CallerNumber string
}

// Reply is what the voice platform should say next.
type Reply struct {
	Utterance string
	State     session.State
	// Result is set when this request committed (or found) the call's result.
	Result *commit.Result
}

// Config wires a Service.
type Config struct {
	Tenants        TenantResolver
	Sessions       session.Store
	Extractor      EntityExtractor
	Machine        *session.Machine
	Committer      ResultCommitter
	Transcripts    TranscriptLog
	Metrics        Metrics
	Logger         *logging.Logger
	StorageTimeout time.Duration
	Now            func() time.Time
}

// Service is safe for concurrent use; all per-call state lives in the
// session store.
type Service struct {
	tenants        TenantResolver
	sessions       session.Store
	extractor      EntityExtractor
	machine        *session.Machine
	committer      ResultCommitter
	transcripts    TranscriptLog
	metrics        Metrics
	logger         *logging.Logger
	storageTimeout time.Duration
	now            func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Tenants == nil || cfg.Sessions == nil || cfg.Extractor == nil || cfg.Committer == nil {
		return nil, errors.New("receptionist: tenants, sessions, extractor and committer are required")
	}
	if cfg.Machine == nil {
		cfg.Machine = session.NewMachine(session.DefaultRetryBudget, session.CorrectionOverwrite)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = defaultStorageTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		tenants:        cfg.Tenants,
		sessions:       cfg.Sessions,
		extractor:      cfg.Extractor,
		machine:        cfg.Machine,
		committer:      cfg.Committer,
		transcripts:    cfg.Transcripts,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		storageTimeout: cfg.StorageTimeout,
		now:            cfg.Now,
	}, nil
}

// HandleTurn processes one caller utterance. Unknown tenants, foreign call
// ids and terminal sessions are returned as errors; everything else,
// including empty or failed extraction, becomes the next utterance.
func (s *Service) HandleTurn(ctx context.Context, turn Turn) (Reply, error) {
	turn.CallID = strings.TrimSpace(turn.CallID)
	turn.TenantID = strings.TrimSpace(turn.TenantID)
	if turn.CallID == "" || turn.TenantID == "" {
		return Reply{}, fmt.Errorf("%w: call_id and tenant_id are required", ErrInvalidRequest)
	}

	ctx, span := tracer.Start(ctx, "receptionist.turn")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", turn.TenantID), attribute.String("call_id", turn.CallID))

	tenant, err := s.resolve(ctx, turn.TenantID)
	if err != nil {
		span.SetStatus(codes.Error, "tenant")
		return Reply{}, err
	}
	log := s.logger.WithCall(tenant.ID, turn.CallID)

	sess, err := s.getOrCreate(ctx, tenant, turn.CallID, turn.CallerNumber)
	if err != nil {
		span.RecordError(err)
		return Reply{}, err
	}
	if sess.Terminal() {
		log.Info("turn rejected: session is terminal", "state", sess.State)
		return Reply{Utterance: response.Render(sess.State, sess.Collected, tenant.DisplayName), State: sess.State}, session.ErrTerminal
	}

	req := s.extractionRequest(tenant, sess, turn.Transcript)
	extracted := s.extractor.Extract(ctx, req)
	if extracted.ModelFailed {
		log.Warn("model extraction degraded to empty", "state", sess.State)
	}
	if s.metrics != nil {
		strategies := make([]string, len(extracted.Strategies))
		for i, st := range extracted.Strategies {
			strategies[i] = string(st)
		}
		s.metrics.ObserveExtraction(strategies)
	}

	machine := s.machine.WithBudget(tenant.RetryBudget)
	var out session.Outcome
	sess, err = s.mutate(ctx, sess, func(working *session.Session) error {
		if working.CallerNumber == "" {
			working.CallerNumber = strings.TrimSpace(turn.CallerNumber)
		}
		var advErr error
		out, advErr = machine.Advance(working, extracted.Entities)
		return advErr
	})
	if errors.Is(err, session.ErrTerminal) {
		return Reply{Utterance: response.Render(sess.State, sess.Collected, tenant.DisplayName), State: sess.State}, err
	}
	if err != nil {
		span.RecordError(err)
		return Reply{}, fmt.Errorf("receptionist: save session: %w", err)
	}

	if len(out.Ignored) > 0 {
		log.Info("correction ignored by policy", "slots", out.Ignored, "state", sess.State)
	}
	if out.Failed {
		log.Warn("retry budget exceeded", "slot", out.Asked, "attempts", out.Attempt)
	}

	reply := Reply{State: sess.State}
	if sess.State == session.StateConfirmed {
		var res *commit.Result
		sess, res = s.commit(ctx, tenant, sess, sess.Duration(), log)
		reply.State, reply.Result = sess.State, res
	}

	if out.Reprompt && !out.Failed {
		reply.Utterance = response.Reprompt(sess.State, sess.Collected, tenant.DisplayName, out.Attempt)
	} else {
		reply.Utterance = response.Render(sess.State, sess.Collected, tenant.DisplayName)
	}

	log.Info("turn handled",
		"from", out.From,
		"to", reply.State,
		"applied", out.Applied,
		"strategies", extracted.Strategies,
		"reprompt", out.Reprompt,
	)
	if s.metrics != nil {
		s.metrics.ObserveTurn(string(sess.Flow), string(reply.State))
	}
	s.record(ctx, log, tenant.ID, turn.CallID,
		transcript.Entry{Role: transcript.RoleCaller, Text: turn.Transcript, Timestamp: s.now().UTC()},
		transcript.Entry{Role: transcript.RoleAssistant, Text: reply.Utterance, State: string(reply.State), Timestamp: s.now().UTC()},
	)
	return reply, nil
}

func (s *Service) extractionRequest(tenant *tenancy.Tenant, sess *session.Session, text string) extraction.Request {
	return extraction.Request{
		Transcript:   text,
		Catalog:      tenant.Catalog,
		Flow:         sess.Flow,
		ActiveSlot:   sess.ActiveSlot(),
		CallerNumber: sess.CallerNumber,
		Now:          s.now(),
		Location:     tenant.Location(),
	}
}

// commit persists a confirmed session's result and marks it DONE. A failed
// commit leaves the session CONFIRMED so the call-ended event can retry it.
func (s *Service) commit(ctx context.Context, tenant *tenancy.Tenant, sess *session.Session, duration time.Duration, log *logging.Logger) (*session.Session, *commit.Result) {
	cctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	res, err := s.committer.Commit(cctx, sess, duration)
	cancel()
	if err != nil {
		log.Error("commit failed; session stays confirmed", "error", err)
		return sess, nil
	}
	done, err := s.mutate(ctx, sess, session.Complete)
	if err != nil {
		log.Error("failed to mark session done", "error", err, "result_id", res.ID)
		return sess, res
	}
	return done, res
}

// mutate applies fn to a copy of sess and saves it. When another delivery
// for the same call saved first, the latest row is reloaded and fn is
// applied again.
func (s *Service) mutate(ctx context.Context, sess *session.Session, fn func(*session.Session) error) (*session.Session, error) {
	for attempt := 1; ; attempt++ {
		working := sess.Clone()
		if err := fn(working); err != nil {
			return working, err
		}
		err := s.save(ctx, working)
		if err == nil {
			return working, nil
		}
		if !errors.Is(err, session.ErrStale) || attempt >= maxSaveAttempts {
			return sess, err
		}
		latest, getErr := s.get(ctx, sess.CallID, sess.TenantID)
		if getErr != nil {
			return sess, getErr
		}
		sess = latest
	}
}

func (s *Service) getOrCreate(ctx context.Context, tenant *tenancy.Tenant, callID, callerNumber string) (*session.Session, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	sess, err := s.sessions.GetOrCreate(sctx, callID, tenant.ID, session.Seed{Flow: tenant.Flow, CallerNumber: callerNumber})
	if err != nil {
		return nil, fmt.Errorf("receptionist: load session: %w", err)
	}
	return sess, nil
}

func (s *Service) resolve(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	rctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return s.tenants.Resolve(rctx, tenantID)
}

func (s *Service) get(ctx context.Context, callID, tenantID string) (*session.Session, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return s.sessions.Get(sctx, callID, tenantID)
}

func (s *Service) save(ctx context.Context, sess *session.Session) error {
	sctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return s.sessions.Save(sctx, sess)
}

func (s *Service) record(ctx context.Context, log *logging.Logger, tenantID, callID string, entries ...transcript.Entry) {
	if s.transcripts == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	if err := s.transcripts.Append(tctx, tenantID, callID, entries...); err != nil {
		log.Warn("failed to append transcript", "error", err)
	}
}
