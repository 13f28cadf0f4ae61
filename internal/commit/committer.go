package commit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/slots"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

var tracer = otel.Tracer("voice-receptionist.commit")

const defaultSideEffectTimeout = 10 * time.Second

// Committer writes results and schedules usage metering. Usage updates and
// notifications run in the background after the result row is written and
// never affect the commit's outcome.
type Committer struct {
	results  ResultRepository
	usage    UsageRepository
	retry    RetryQueue
	notifier Notifier
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
	timeout  time.Duration
	wg       sync.WaitGroup
}

// Option customizes a Committer.
type Option func(*Committer)

// WithRetryQueue parks failed usage deltas for the UsageRetrier.
func WithRetryQueue(q RetryQueue) Option {
	return func(c *Committer) { c.retry = q }
}

func WithNotifier(n Notifier) Option {
	return func(c *Committer) { c.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(c *Committer) { c.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(c *Committer) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCommitter(results ResultRepository, usage UsageRepository, logger *logging.Logger, opts ...Option) *Committer {
	if results == nil {
		panic("commit: result repository required")
	}
	if usage == nil {
		panic("commit: usage repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Committer{
		results: results,
		usage:   usage,
		logger:  logger,
		now:     time.Now,
		timeout: defaultSideEffectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit persists the result of a confirmed session. Committing the same
// call twice returns the existing result with Created false.
func (c *Committer) Commit(ctx context.Context, sess *session.Session, callDuration time.Duration) (*Result, error) {
	if sess == nil || (sess.State != session.StateConfirmed && sess.State != session.StateDone) {
		return nil, ErrNotCommittable
	}
	if missing, ok := session.NextMissing(sess.Flow, sess.Collected); ok {
		return nil, fmt.Errorf("%w: %s", ErrIncomplete, missing)
	}

	ctx, span := tracer.Start(ctx, "commit.result")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", sess.TenantID), attribute.String("call_id", sess.CallID))

	log := c.logger.WithCall(sess.TenantID, sess.CallID)
	res, err := c.insert(ctx, sess)
	if err != nil {
		span.RecordError(err)
		c.observe(res.Kind, "error")
		return nil, err
	}
	if !res.Created {
		log.Info("duplicate commit ignored", "result_id", res.ID, "kind", res.Kind)
		c.observe(res.Kind, "duplicate")
		return &res, nil
	}
	log.Info("result committed", "result_id", res.ID, "kind", res.Kind)
	c.observe(res.Kind, "created")

	delta := UsageDelta{
		TenantID: sess.TenantID,
		CallID:   sess.CallID,
		Month:    c.now().UTC().Format("2006-01"),
		Calls:    1,
		Seconds:  wholeSeconds(callDuration),
	}
	c.afterCommit(context.WithoutCancel(ctx), res, delta)
	return &res, nil
}

func (c *Committer) insert(ctx context.Context, sess *session.Session) (Result, error) {
	created := c.now().UTC()
	col := sess.Collected
	res := Result{TenantID: sess.TenantID, CallID: sess.CallID}

	if sess.Flow == slots.FlowAppointment {
		appt := Appointment{
			ID:            uuid.NewString(),
			TenantID:      sess.TenantID,
			CallID:        sess.CallID,
			Service:       col.Service,
			Date:          col.Date,
			Time:          col.Time,
			CustomerName:  col.CustomerName,
			CustomerPhone: col.CustomerPhone,
			CreatedAt:     created,
		}
		res.Kind = KindAppointment
		id, isNew, err := c.results.InsertAppointment(ctx, appt)
		if err != nil {
			return res, fmt.Errorf("commit: insert appointment: %w", err)
		}
		appt.ID = id
		res.ID, res.Created, res.Appointment = id, isNew, &appt
		return res, nil
	}

	order := Order{
		ID:            uuid.NewString(),
		TenantID:      sess.TenantID,
		CallID:        sess.CallID,
		Items:         col.Items,
		DeliveryType:  col.DeliveryType,
		Address:       col.Address,
		CustomerName:  col.CustomerName,
		CustomerPhone: col.CustomerPhone,
		TotalCents:    col.TotalCents(),
		CreatedAt:     created,
	}
	res.Kind = KindOrder
	id, isNew, err := c.results.InsertOrder(ctx, order)
	if err != nil {
		return res, fmt.Errorf("commit: insert order: %w", err)
	}
	order.ID = id
	res.ID, res.Created, res.Order = id, isNew, &order
	return res, nil
}

// SettleUsage records the provider-reported length of a committed call. It
// replaces the seconds counted at commit time, which for a call committed
// mid-conversation is only the session's age. Repeated settlements are
// no-ops.
func (c *Committer) SettleUsage(ctx context.Context, sess *session.Session, reported time.Duration) {
	if sess == nil || reported <= 0 {
		return
	}
	delta := UsageDelta{
		TenantID: sess.TenantID,
		CallID:   sess.CallID,
		Month:    c.now().UTC().Format("2006-01"),
		Calls:    1,
		Seconds:  wholeSeconds(reported),
		Settled:  true,
	}
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.applyUsage(ctx, delta, c.logger.WithCall(delta.TenantID, delta.CallID))
	}()
}

func (c *Committer) applyUsage(ctx context.Context, delta UsageDelta, log *logging.Logger) {
	uctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.usage.Apply(uctx, delta); err != nil {
		log.Warn("usage update failed", "error", err, "month", delta.Month, "settled", delta.Settled)
		if c.observer != nil {
			c.observer.ObserveUsageFailure()
		}
		c.park(ctx, delta, log)
	}
}

func wholeSeconds(d time.Duration) int64 {
	return int64(math.Ceil(math.Max(d.Seconds(), 0)))
}

func (c *Committer) afterCommit(ctx context.Context, res Result, delta UsageDelta) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log := c.logger.WithCall(res.TenantID, res.CallID)
		c.applyUsage(ctx, delta, log)

		if c.notifier == nil {
			return
		}
		nctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.notifier.ResultCommitted(nctx, res); err != nil {
			log.Warn("result notification failed", "error", err, "result_id", res.ID)
		}
	}()
}

func (c *Committer) park(ctx context.Context, delta UsageDelta, log *logging.Logger) {
	if c.retry == nil {
		log.Error("usage delta dropped: no retry queue", "month", delta.Month, "seconds", delta.Seconds)
		return
	}
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.retry.Enqueue(qctx, delta); err != nil {
		log.Error("failed to park usage delta", "error", err, "month", delta.Month, "seconds", delta.Seconds)
	}
}

// Wait blocks until background usage updates and notifications finish.
func (c *Committer) Wait() {
	c.wg.Wait()
}

func (c *Committer) observe(kind Kind, outcome string) {
	if c.observer == nil {
		return
	}
	if kind == "" {
		kind = KindOrder
	}
	c.observer.ObserveCommit(string(kind), outcome)
}
