package session

import (
	"strings"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

// DefaultRetryBudget is how many empty re-asks a slot tolerates.
const DefaultRetryBudget = 3

// CorrectionPolicy decides whether a new value replaces a filled slot.
type CorrectionPolicy string

const (
	// CorrectionOverwrite replaces a filled slot with any new value.
	CorrectionOverwrite CorrectionPolicy = "overwrite"
	// CorrectionGuarded replaces a filled slot only while that slot is being
	// asked or during a read-back.
	CorrectionGuarded CorrectionPolicy = "guarded"
)

// ParseCorrectionPolicy defaults to overwrite for unknown values.
func ParseCorrectionPolicy(s string) CorrectionPolicy {
	if CorrectionPolicy(strings.ToLower(strings.TrimSpace(s))) == CorrectionGuarded {
		return CorrectionGuarded
	}
	return CorrectionOverwrite
}

// ShouldFail reports whether slot has exceeded its retry budget.
func ShouldFail(slot slots.Name, counts map[slots.Name]int, budget int) bool {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	return counts[slot] > budget
}

// Outcome describes what one turn did to a session.
type Outcome struct {
	From State
	To   State
	// Asked is the slot the previous prompt asked for.
	Asked slots.Name
	// Applied lists slots whose value changed this turn.
	Applied []slots.Name
	// Ignored lists corrections refused by the guarded policy.
	Ignored []slots.Name
	// Reprompt is set when the asked slot got no value.
	Reprompt  bool
	Attempt   int
	Corrected bool
	Rejected  bool
	Failed    bool
	// Replayed is set when every value in the turn was already stored,
	// as with a redelivered webhook. A replay never counts as a miss.
	Replayed bool
}

// Machine applies turns to sessions. It holds no per-call state.
type Machine struct {
	budget int
	policy CorrectionPolicy
}

func NewMachine(budget int, policy CorrectionPolicy) *Machine {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	if policy == "" {
		policy = CorrectionOverwrite
	}
	return &Machine{budget: budget, policy: policy}
}

// WithBudget returns a machine using a tenant-specific retry budget.
func (m *Machine) WithBudget(budget int) *Machine {
	if budget <= 0 || budget == m.budget {
		return m
	}
	return &Machine{budget: budget, policy: m.policy}
}

// Advance folds one turn's entities into sess and moves it to its next
// state. Slots are asked in the flow's fixed order; once all are filled
// the session reads them back and waits for an explicit yes or no.
func (m *Machine) Advance(sess *Session, ents slots.Entities) (Outcome, error) {
	if sess.Terminal() {
		return Outcome{From: sess.State, To: sess.State}, ErrTerminal
	}
	if sess.State == StateConfirmed {
		// A confirmed session only waits for its commit.
		return Outcome{From: sess.State, To: sess.State}, nil
	}
	ents = ents.Applicable(sess.Flow)
	out := Outcome{From: sess.State, Asked: sess.ActiveSlot()}
	reviewing := sess.State.IsConfirm()
	out.Applied, out.Ignored = Merge(&sess.Collected, ents, m.policy, out.Asked, reviewing)
	out.Replayed = ents.Confirmation == nil && len(ents.Filled()) > 0 && len(out.Applied) == 0 && len(out.Ignored) == 0

	switch {
	case sess.State == StateGreeting:
		sess.State = nextState(sess.Flow, sess.Collected)

	case reviewing:
		switch {
		case len(out.Applied) > 0:
			out.Corrected = true
			sess.State = nextState(sess.Flow, sess.Collected)
		case ents.Confirmation != nil && *ents.Confirmation:
			sess.State = StateConfirmed
		case ents.Confirmation != nil:
			out.Rejected = true
			clearPrimary(sess)
			sess.State = nextState(sess.Flow, sess.Collected)
		case out.Replayed:
		default:
			m.miss(sess, slots.Confirmation, &out)
		}

	default:
		if missing, ok := NextMissing(sess.Flow, sess.Collected); ok && missing == out.Asked && !ents.Has(out.Asked) && !out.Replayed {
			m.miss(sess, out.Asked, &out)
		}
		if sess.State != StateFailed {
			sess.State = nextState(sess.Flow, sess.Collected)
		}
	}

	out.To = sess.State
	return out, nil
}

// Finalize applies a provider's end-of-call summary. The summary carries
// final values, so it always overwrites; a complete summary confirms the
// session directly.
func (m *Machine) Finalize(sess *Session, ents slots.Entities) (Outcome, error) {
	if sess.Terminal() {
		return Outcome{From: sess.State, To: sess.State}, ErrTerminal
	}
	ents = ents.Applicable(sess.Flow)
	out := Outcome{From: sess.State, Asked: sess.ActiveSlot()}
	out.Applied, _ = Merge(&sess.Collected, ents, CorrectionOverwrite, out.Asked, true)
	if _, missing := NextMissing(sess.Flow, sess.Collected); !missing {
		sess.State = StateConfirmed
	} else if sess.State != StateConfirmed {
		sess.State = nextState(sess.Flow, sess.Collected)
	}
	out.To = sess.State
	return out, nil
}

// Complete moves a committed session from CONFIRMED to DONE.
func Complete(sess *Session) error {
	if sess.State == StateDone {
		return nil
	}
	if sess.State != StateConfirmed {
		return ErrNotConfirmed
	}
	sess.State = StateDone
	return nil
}

func (m *Machine) miss(sess *Session, slot slots.Name, out *Outcome) {
	if sess.RetryCounts == nil {
		sess.RetryCounts = map[slots.Name]int{}
	}
	sess.RetryCounts[slot]++
	out.Reprompt = true
	out.Attempt = sess.RetryCounts[slot]
	if ShouldFail(slot, sess.RetryCounts, m.budget) {
		sess.State = StateFailed
		out.Failed = true
	}
}

// clearPrimary drops what a rejected read-back most likely got wrong: the
// order lines, or the appointment date and time.
func clearPrimary(sess *Session) {
	if sess.Flow == slots.FlowAppointment {
		sess.Collected.Clear(slots.Date)
		sess.Collected.Clear(slots.Time)
		return
	}
	sess.Collected.Clear(slots.Items)
}

// Merge copies the turn's non-empty values into c and reports which slots
// changed. Re-applying the same entities is a no-op. Under the guarded
// policy a filled slot only changes while it is asked or under review.
func Merge(c *slots.Collected, e slots.Entities, policy CorrectionPolicy, asked slots.Name, reviewing bool) (applied, ignored []slots.Name) {
	for _, slot := range e.Filled() {
		if c.Has(slot) {
			if sameValue(*c, e, slot) {
				continue
			}
			if policy == CorrectionGuarded && !reviewing && slot != asked {
				ignored = append(ignored, slot)
				continue
			}
		}
		set(c, e, slot)
		applied = append(applied, slot)
	}
	if c.DeliveryType == slots.DeliveryPickup && c.Address != "" {
		c.Address = ""
	}
	return applied, ignored
}

func sameValue(c slots.Collected, e slots.Entities, slot slots.Name) bool {
	switch slot {
	case slots.Items:
		if len(c.Items) != len(e.Items) {
			return false
		}
		for i := range c.Items {
			if !c.Items[i].Equal(e.Items[i]) {
				return false
			}
		}
		return true
	case slots.DeliveryType:
		return c.DeliveryType == e.DeliveryType
	case slots.Address:
		return c.Address == e.Address
	case slots.CustomerName:
		return c.CustomerName == e.CustomerName
	case slots.CustomerPhone:
		return c.CustomerPhone == e.CustomerPhone
	case slots.Service:
		return c.Service == e.Service
	case slots.Date:
		return c.Date == e.Date
	case slots.Time:
		return c.Time == e.Time
	}
	return false
}

func set(c *slots.Collected, e slots.Entities, slot slots.Name) {
	switch slot {
	case slots.Items:
		c.Items = append([]slots.LineItem(nil), e.Items...)
	case slots.DeliveryType:
		c.DeliveryType = e.DeliveryType
	case slots.Address:
		c.Address = e.Address
	case slots.CustomerName:
		c.CustomerName = e.CustomerName
	case slots.CustomerPhone:
		c.CustomerPhone = e.CustomerPhone
	case slots.Service:
		c.Service = e.Service
	case slots.Date:
		c.Date = e.Date
	case slots.Time:
		c.Time = e.Time
	}
}
