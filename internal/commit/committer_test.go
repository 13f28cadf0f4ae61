package commit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/slots"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

var commitNow = time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC)

func confirmedOrder(callID string) *session.Session {
	sess := session.New(callID, "tenant-a", session.Seed{Flow: slots.FlowOrder}, commitNow)
	sess.State = session.StateConfirmed
	sess.Collected = slots.Collected{
		Items:         []slots.LineItem{{Product: "Grote friet", Quantity: 2, UnitPriceCents: 410, Label: "Grote friet"}},
		DeliveryType:  slots.DeliveryPickup,
		CustomerName:  "Jan",
		CustomerPhone: "0470123456",
	}
	return sess
}

func confirmedAppointment(callID string) *session.Session {
	sess := session.New(callID, "tenant-b", session.Seed{Flow: slots.FlowAppointment}, commitNow)
	sess.State = session.StateConfirmed
	sess.Collected = slots.Collected{
		Service: "Knippen dames", Date: "2026-10-16", Time: "14:30",
		CustomerName: "Els", CustomerPhone: "0470123456",
	}
	return sess
}

type flakyUsage struct {
	inner *MemoryUsageRepository
	fails atomic.Int32
}

func (f *flakyUsage) Apply(ctx context.Context, d UsageDelta) (bool, error) {
	if f.fails.Load() > 0 {
		f.fails.Add(-1)
		return false, errors.New("usage db unavailable")
	}
	return f.inner.Apply(ctx, d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []Result
}

func (n *recordingNotifier) ResultCommitted(ctx context.Context, r Result) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	failures int
}

func (o *countingObserver) ObserveCommit(kind, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[kind+"/"+outcome]++
}

func (o *countingObserver) ObserveUsageFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func TestCommitIsIdempotent(t *testing.T) {
	results := NewMemoryResultRepository()
	usage := NewMemoryUsageRepository()
	notifier := &recordingNotifier{}
	observer := &countingObserver{}
	c := NewCommitter(results, usage, logging.Discard(),
		WithNotifier(notifier), WithObserver(observer), WithClock(func() time.Time { return commitNow }))

	sess := confirmedOrder("abc")
	first, err := c.Commit(context.Background(), sess, 95*time.Second)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second, err := c.Commit(context.Background(), sess, 95*time.Second)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	c.Wait()

	if !first.Created || second.Created || first.ID != second.ID {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if n := results.Count("tenant-a", "abc"); n != 1 {
		t.Fatalf("results = %d", n)
	}
	order, _ := results.Order("tenant-a", "abc")
	if order.TotalCents != 820 {
		t.Fatalf("total = %d", order.TotalCents)
	}
	total := usage.Total("tenant-a", "2026-10")
	if total.Calls != 1 || total.Seconds != 95 {
		t.Fatalf("usage = %+v", total)
	}
	if len(notifier.results) != 1 {
		t.Fatalf("notifications = %d", len(notifier.results))
	}
	if observer.outcomes["order/created"] != 1 || observer.outcomes["order/duplicate"] != 1 {
		t.Fatalf("outcomes = %v", observer.outcomes)
	}
}

func TestSettleUsageReplacesProvisionalSeconds(t *testing.T) {
	usage := NewMemoryUsageRepository()
	c := NewCommitter(NewMemoryResultRepository(), usage, logging.Discard(),
		WithClock(func() time.Time { return commitNow }))

	sess := confirmedOrder("abc")
	if _, err := c.Commit(context.Background(), sess, 12*time.Second); err != nil {
		t.Fatalf("commit: %v", err)
	}
	c.Wait()
	if total := usage.Total("tenant-a", "2026-10"); total.Calls != 1 || total.Seconds != 12 {
		t.Fatalf("provisional usage = %+v", total)
	}

	c.SettleUsage(context.Background(), sess, 80*time.Second)
	c.SettleUsage(context.Background(), sess, 80*time.Second)
	c.SettleUsage(context.Background(), sess, 0)
	c.Wait()

	if total := usage.Total("tenant-a", "2026-10"); total.Calls != 1 || total.Seconds != 80 {
		t.Fatalf("settled usage = %+v", total)
	}
}

func TestSettleUsageBeforeCommitCountsOnce(t *testing.T) {
	usage := NewMemoryUsageRepository()
	c := NewCommitter(NewMemoryResultRepository(), usage, logging.Discard(),
		WithClock(func() time.Time { return commitNow }))

	sess := confirmedOrder("abc")
	c.SettleUsage(context.Background(), sess, 80*time.Second)
	c.Wait()
	if _, err := c.Commit(context.Background(), sess, 12*time.Second); err != nil {
		t.Fatalf("commit: %v", err)
	}
	c.Wait()

	if total := usage.Total("tenant-a", "2026-10"); total.Calls != 1 || total.Seconds != 80 {
		t.Fatalf("usage = %+v", total)
	}
}

func TestCommitConcurrentDuplicates(t *testing.T) {
	results := NewMemoryResultRepository()
	usage := NewMemoryUsageRepository()
	c := NewCommitter(results, usage, logging.Discard(), WithClock(func() time.Time { return commitNow }))

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Commit(context.Background(), confirmedOrder("dup"), time.Minute)
			if err == nil && res.Created {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	c.Wait()

	if created.Load() != 1 || results.Count("tenant-a", "dup") != 1 {
		t.Fatalf("created = %d rows = %d", created.Load(), results.Count("tenant-a", "dup"))
	}
	if total := usage.Total("tenant-a", "2026-10"); total.Calls != 1 {
		t.Fatalf("usage = %+v", total)
	}
}

func TestCommitAppointment(t *testing.T) {
	results := NewMemoryResultRepository()
	c := NewCommitter(results, NewMemoryUsageRepository(), logging.Discard())
	res, err := c.Commit(context.Background(), confirmedAppointment("appt"), 0)
	c.Wait()
	if err != nil || res.Kind != KindAppointment || res.Appointment == nil || res.Appointment.Time != "14:30" {
		t.Fatalf("res = %+v err = %v", res, err)
	}
}

func TestCommitRejectsUnconfirmedSessions(t *testing.T) {
	results := NewMemoryResultRepository()
	c := NewCommitter(results, NewMemoryUsageRepository(), logging.Discard())

	failed := confirmedOrder("failed")
	failed.State = session.StateFailed
	if _, err := c.Commit(context.Background(), failed, time.Minute); !errors.Is(err, ErrNotCommittable) {
		t.Fatalf("expected ErrNotCommittable, got %v", err)
	}

	incomplete := confirmedOrder("incomplete")
	incomplete.Collected.CustomerPhone = ""
	if _, err := c.Commit(context.Background(), incomplete, time.Minute); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if results.Count("tenant-a", "failed")+results.Count("tenant-a", "incomplete") != 0 {
		t.Fatal("result rows created for uncommittable sessions")
	}
}

func TestUsageFailureIsParkedAndRetried(t *testing.T) {
	results := NewMemoryResultRepository()
	usage := &flakyUsage{inner: NewMemoryUsageRepository()}
	usage.fails.Store(2)
	queue := NewMemoryRetryQueue()
	observer := &countingObserver{}
	c := NewCommitter(results, usage, logging.Discard(),
		WithRetryQueue(queue), WithObserver(observer), WithClock(func() time.Time { return commitNow }))

	res, err := c.Commit(context.Background(), confirmedOrder("abc"), 30*time.Second)
	c.Wait()
	if err != nil || !res.Created {
		t.Fatalf("commit must stand despite usage failure: %+v %v", res, err)
	}
	if observer.failures != 1 || queue.Len() != 1 {
		t.Fatalf("failures = %d queued = %d", observer.failures, queue.Len())
	}

	retrier := NewUsageRetrier(queue, usage, time.Second, logging.Discard())
	ctx := context.Background()

	// Second failure: the message stays queued.
	if n, err := retrier.Drain(ctx); err != nil || n != 0 {
		t.Fatalf("drain 1: settled=%d err=%v", n, err)
	}
	if n, err := retrier.Drain(ctx); err != nil || n != 1 {
		t.Fatalf("drain 2: settled=%d err=%v", n, err)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue not drained: %d", queue.Len())
	}

	// A redelivered delta is not counted twice.
	queue.Enqueue(ctx, UsageDelta{TenantID: "tenant-a", CallID: "abc", Month: "2026-10", Calls: 1, Seconds: 30})
	if _, err := retrier.Drain(ctx); err != nil {
		t.Fatalf("drain 3: %v", err)
	}
	if total := usage.inner.Total("tenant-a", "2026-10"); total.Calls != 1 || total.Seconds != 30 {
		t.Fatalf("usage = %+v", total)
	}
}

func TestUsageRetrierRunStopsOnCancel(t *testing.T) {
	queue := NewMemoryRetryQueue()
	usage := NewMemoryUsageRepository()
	queue.Enqueue(context.Background(), UsageDelta{TenantID: "t", CallID: "c", Month: "2026-10", Calls: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewUsageRetrier(queue, usage, 10*time.Millisecond, logging.Discard()).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for usage.Total("t", "2026-10").Calls != 1 {
		select {
		case <-deadline:
			t.Fatal("retrier never applied the delta")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
