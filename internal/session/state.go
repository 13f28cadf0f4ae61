package session

import "github.com/wolfman30/voice-receptionist/internal/slots"

// State is a conversation state of one call.
type State string

const (
	StateGreeting           State = "GREETING"
	StateCollectingItems    State = "COLLECTING_ITEMS"
	StateCollectingDelivery State = "COLLECTING_DELIVERY"
	StateCollectingAddress  State = "COLLECTING_ADDRESS"
	StateCollectingService  State = "COLLECTING_SERVICE"
	StateCollectingDate     State = "COLLECTING_DATE"
	StateCollectingTime     State = "COLLECTING_TIME"
	StateCollectingName     State = "COLLECTING_NAME"
	StateCollectingPhone    State = "COLLECTING_PHONE"
	StateConfirmItems       State = "CONFIRM_ITEMS"
	StateConfirmAppointment State = "CONFIRM_APPOINTMENT"
	StateConfirmed          State = "CONFIRMED"
	StateDone               State = "DONE"
	StateFailed             State = "FAILED"
)

var slotStates = map[slots.Name]State{
	slots.Items:         StateCollectingItems,
	slots.DeliveryType:  StateCollectingDelivery,
	slots.Address:       StateCollectingAddress,
	slots.Service:       StateCollectingService,
	slots.Date:          StateCollectingDate,
	slots.Time:          StateCollectingTime,
	slots.CustomerName:  StateCollectingName,
	slots.CustomerPhone: StateCollectingPhone,
}

// StateForSlot is the collecting state that asks for slot.
func StateForSlot(slot slots.Name) (State, bool) {
	s, ok := slotStates[slot]
	return s, ok
}

// Slot is the slot a state asks for: a collecting slot, the confirmation
// pseudo-slot during a read-back, or empty.
func (s State) Slot() slots.Name {
	if s.IsConfirm() {
		return slots.Confirmation
	}
	for slot, st := range slotStates {
		if st == s {
			return slot
		}
	}
	return ""
}

// IsConfirm reports whether s is a read-back state.
func (s State) IsConfirm() bool {
	return s == StateConfirmItems || s == StateConfirmAppointment
}

// IsTerminal reports whether s accepts no further turns.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateGreeting, StateConfirmItems, StateConfirmAppointment, StateConfirmed, StateDone, StateFailed:
		return true
	}
	return s.Slot() != ""
}

func confirmState(flow slots.Flow) State {
	if flow == slots.FlowAppointment {
		return StateConfirmAppointment
	}
	return StateConfirmItems
}

// nextState is the collecting state of the first missing required slot, or
// the flow's read-back when everything is filled.
func nextState(flow slots.Flow, c slots.Collected) State {
	if slot, ok := NextMissing(flow, c); ok {
		return slotStates[slot]
	}
	return confirmState(flow)
}

// NextMissing returns the first unfilled required slot of flow.
func NextMissing(flow slots.Flow, c slots.Collected) (slots.Name, bool) {
	for _, slot := range slots.Required(flow, c) {
		if !c.Has(slot) {
			return slot, true
		}
	}
	return "", false
}
