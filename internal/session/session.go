// Package session owns the per-call conversation state: the state machine
// that folds extracted entities into collected slots, and the stores that
// persist one session per provider call id.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

var (
	// ErrTerminal is returned for turns against a DONE or FAILED session.
	ErrTerminal = errors.New("session: session is terminal")
	// ErrNotFound is returned when no session exists for a call id.
	ErrNotFound = errors.New("session: not found")
	// ErrTenantMismatch is returned when a call id belongs to another tenant.
	ErrTenantMismatch = errors.New("session: call belongs to another tenant")
	// ErrStale is returned by Save when another writer updated the session first.
	ErrStale = errors.New("session: stale version")
	// ErrNotConfirmed is returned when completing a session that was never confirmed.
	ErrNotConfirmed = errors.New("session: not confirmed")
)

// Session is the persisted state of one call.
type Session struct {
	CallID       string             `json:"call_id"`
	TenantID     string             `json:"tenant_id"`
	Flow         slots.Flow         `json:"flow"`
	State        State              `json:"state"`
	Collected    slots.Collected    `json:"collected"`
	RetryCounts  map[slots.Name]int `json:"retry_counts,omitempty"`
	CallerNumber string             `json:"caller_number,omitempty"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Seed carries the values a new session starts with.
type Seed struct {
	Flow         slots.Flow
	CallerNumber string
}

// New builds a fresh session in GREETING.
func New(callID, tenantID string, seed Seed, now time.Time) *Session {
	return &Session{
		CallID:       strings.TrimSpace(callID),
		TenantID:     strings.TrimSpace(tenantID),
		Flow:         seed.Flow,
		State:        StateGreeting,
		RetryCounts:  map[slots.Name]int{},
		CallerNumber: strings.TrimSpace(seed.CallerNumber),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// ActiveSlot is the slot the last prompt asked for.
func (s *Session) ActiveSlot() slots.Name {
	return s.State.Slot()
}

// Terminal reports whether the session rejects new turns.
func (s *Session) Terminal() bool {
	return s.State.IsTerminal()
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Collected.Items != nil {
		out.Collected.Items = make([]slots.LineItem, len(s.Collected.Items))
		for i, item := range s.Collected.Items {
			item.Modifiers = append([]string(nil), item.Modifiers...)
			out.Collected.Items[i] = item
		}
	}
	out.RetryCounts = make(map[slots.Name]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		out.RetryCounts[k] = v
	}
	return &out
}

// Duration is the time between creation and the last update.
func (s *Session) Duration() time.Duration {
	if s.UpdatedAt.Before(s.CreatedAt) {
		return 0
	}
	return s.UpdatedAt.Sub(s.CreatedAt)
}
