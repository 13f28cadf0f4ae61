package receptionist

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-receptionist/internal/extraction"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

func orderSummary() extraction.Summary {
	return extraction.Summary{
		"items":          json.RawMessage(`[{"product":"Grote friet","quantity":2,"modifiers":["mayonaise"]}]`),
		"delivery_type":  json.RawMessage(`"pickup"`),
		"customer_name":  json.RawMessage(`"Jan Peeters"`),
		"customer_phone": json.RawMessage(`"+32470123456"`),
	}
}

func TestLifecycleSummaryCommitsOnceAcrossReplays(t *testing.T) {
	h := newHarness(t, tenantMap{"hoek": frituur("hoek", 410)}, nil)
	ev := LifecycleEvent{
		Event: EventAnalyzed, CallID: "abc", TenantID: "hoek",
		DurationSeconds: 95, Transcript: "Agent: ... Caller: ...", Summary: orderSummary(),
	}

	first, err := h.svc.HandleLifecycle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, session.StateDone, first.State)
	require.NotNil(t, first.Result)
	assert.True(t, first.Result.Created)

	replay, err := h.svc.HandleLifecycle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, session.StateDone, replay.State)
	assert.Nil(t, replay.Result)

	h.committer.Wait()
	assert.Equal(t, 1, h.results.Count("hoek", "abc"))
	order, ok := h.results.Order("hoek", "abc")
	require.True(t, ok)
	assert.Equal(t, int64(1040), order.TotalCents)

	usage := h.usage.Total("hoek", "2026-10")
	assert.Equal(t, int64(1), usage.Calls)
	assert.Equal(t, int64(95), usage.Seconds)
	assert.Equal(t, 2, h.log.entries["hoek/abc"])
}

func TestLifecycleIncompleteSummaryDoesNotCommit(t *testing.T) {
	h := newHarness(t, tenantMap{"hoek": frituur("hoek", 410)}, nil)
	summary := orderSummary()
	delete(summary, "customer_phone")

	reply, err := h.svc.HandleLifecycle(context.Background(), LifecycleEvent{
		Event: EventEnded, CallID: "abc", TenantID: "hoek", Summary: summary,
	})
	require.NoError(t, err)
	assert.Equal(t, session.StateCollectingPhone, reply.State)
	h.committer.Wait()
	assert.Zero(t, h.results.Count("hoek", "abc"))
}

func TestLifecycleEndedMidFlowLeavesSession(t *testing.T) {
	h := newHarness(t, tenantMap{"hoek": frituur("hoek", 410)}, nil)
	h.say(t, "hoek", "abc", "twee grote friet")

	reply, err := h.svc.HandleLifecycle(context.Background(), LifecycleEvent{Event: EventEnded, CallID: "abc", TenantID: "hoek", DurationSeconds: 20})
	require.NoError(t, err)
	assert.Equal(t, session.StateCollectingDelivery, reply.State)
	assert.Nil(t, reply.Result)
	assert.Zero(t, h.results.Count("hoek", "abc"))
}

func TestLifecycleEndedRetriesConfirmedCommit(t *testing.T) {
	h := newHarness(t, tenantMap{"hoek": frituur("hoek", 410)}, nil)
	ctx := context.Background()
	sess, err := h.sessions.GetOrCreate(ctx, "abc", "hoek", session.Seed{Flow: "order"})
	require.NoError(t, err)
	_, err = session.NewMachine(0, "").Finalize(sess, h.svc.extractor.FromSummary(orderSummary(), h.svc.extractionRequest(frituur("hoek", 410), sess, "")))
	require.NoError(t, err)
	require.Equal(t, session.StateConfirmed, sess.State)
	require.NoError(t, h.sessions.Save(ctx, sess))

	reply, err := h.svc.HandleLifecycle(ctx, LifecycleEvent{Event: EventEnded, CallID: "abc", TenantID: "hoek", DurationSeconds: 30})
	require.NoError(t, err)
	assert.Equal(t, session.StateDone, reply.State)
	require.NotNil(t, reply.Result)
	h.committer.Wait()
	assert.Equal(t, 1, h.results.Count("hoek", "abc"))
	assert.Equal(t, int64(30), h.usage.Total("hoek", "2026-10").Seconds)
}

func TestLifecycleStartedAndUnknownCalls(t *testing.T) {
	h := newHarness(t, tenantMap{"hoek": frituur("hoek", 410)}, nil)

	reply, err := h.svc.HandleLifecycle(context.Background(), LifecycleEvent{Event: EventStarted, CallID: "abc", TenantID: "hoek", CallerNumber: "+32470123456"})
	require.NoError(t, err)
	assert.Equal(t, session.StateGreeting, reply.State)
	assert.Contains(t, reply.Utterance, "Frituur hoek")

	reply, err = h.svc.HandleLifecycle(context.Background(), LifecycleEvent{Event: EventEnded, CallID: "never-seen", TenantID: "hoek"})
	require.NoError(t, err)
	assert.Empty(t, reply.State)

	_, err = h.svc.HandleLifecycle(context.Background(), LifecycleEvent{Event: "paused", CallID: "abc", TenantID: "hoek"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.HandleLifecycle(context.Background(), LifecycleEvent{Event: EventEnded, CallID: "abc", TenantID: "ghost"})
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
}

func TestJanitorExpiresAbandonedSessions(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "abandoned", "hoek", session.Seed{Flow: "order"})
	require.NoError(t, err)
	done, err := store.GetOrCreate(ctx, "finished", "hoek", session.Seed{Flow: "order"})
	require.NoError(t, err)
	done.State = session.StateDone
	require.NoError(t, store.Save(ctx, done))

	j := NewJanitor(store, time.Hour, time.Minute, logging.Discard())
	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "abandoned", "hoek")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = store.Get(ctx, "finished", "hoek")
	assert.NoError(t, err)
}
