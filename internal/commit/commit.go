// Package commit turns a confirmed call session into its persisted order or
// appointment, exactly once per call, and meters tenant usage.
package commit

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

var (
	// ErrNotCommittable is returned for sessions that were never confirmed.
	ErrNotCommittable = errors.New("commit: session is not confirmed")
	// ErrIncomplete is returned when a confirmed session lacks a required slot.
	ErrIncomplete = errors.New("commit: session is missing required slots")
)

// Kind is the type of committed result.
type Kind string

const (
	KindOrder       Kind = "order"
	KindAppointment Kind = "appointment"
)

type Order struct {
	ID            string
	TenantID      string
	CallID        string
	Items         []slots.LineItem
	DeliveryType  string
	Address       string
	CustomerName  string
	CustomerPhone string
	TotalCents    int64
	CreatedAt     time.Time
}

type Appointment struct {
	ID            string
	TenantID      string
	CallID        string
	Service       string
	Date          string
	Time          string
	CustomerName  string
	CustomerPhone string
	CreatedAt     time.Time
}

// Result is what a commit produced. Created is false when the call was
// already committed and the existing row was returned.
type Result struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	TenantID    string       `json:"tenant_id"`
	CallID      string       `json:"call_id"`
	Created     bool         `json:"created"`
	Order       *Order       `json:"-"`
	Appointment *Appointment `json:"-"`
}

// UsageDelta is one call's contribution to a tenant's monthly usage.
type UsageDelta struct {
	TenantID string `json:"tenant_id"`
	CallID   string `json:"call_id"`
	Month    string `json:"month"` // YYYY-MM
	Calls    int64  `json:"calls"`
	Seconds  int64  `json:"seconds"`
	// Settled marks Seconds as the provider-reported call length rather
	// than the session's age at commit time.
	Settled bool `json:"settled,omitempty"`
}

// ResultRepository stores results. Inserts must be idempotent on
// (tenant_id, call_id) and report whether a new row was written.
type ResultRepository interface {
	InsertOrder(ctx context.Context, o Order) (id string, created bool, err error)
	InsertAppointment(ctx context.Context, a Appointment) (id string, created bool, err error)
}

// UsageRepository applies usage deltas at most once per call. A settled
// delta for an already counted call replaces its provisional seconds, also
// at most once; Apply then reports true without counting the call again.
type UsageRepository interface {
	Apply(ctx context.Context, d UsageDelta) (applied bool, err error)
}

// Notifier is told about newly created results.
type Notifier interface {
	ResultCommitted(ctx context.Context, r Result) error
}

// Observer receives commit outcomes for metrics.
type Observer interface {
	ObserveCommit(kind, outcome string)
	ObserveUsageFailure()
}
