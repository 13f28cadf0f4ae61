// Package response renders the receptionist's next utterance. Rendering is
// a pure function of the conversation state, the collected slots and the
// tenant's display name: one question per turn, preceded by a short echo of
// what was understood last.
package response

import (
	"fmt"
	"strings"

	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/slots"
)

var questions = map[session.State]string{
	session.StateCollectingItems:    "Wat mag ik voor u noteren?",
	session.StateCollectingDelivery: "Komt u het afhalen, of mogen we het leveren?",
	session.StateCollectingAddress:  "Op welk adres mogen we leveren?",
	session.StateCollectingService:  "Voor welke behandeling wilt u een afspraak maken?",
	session.StateCollectingDate:     "Voor welke dag wilt u de afspraak?",
	session.StateCollectingTime:     "Hoe laat past het u?",
	session.StateCollectingName:     "Op welke naam mag ik dat noteren?",
	session.StateCollectingPhone:    "Op welk telefoonnummer kunnen we u bereiken?",
}

// Render returns the utterance for state.
func Render(state session.State, c slots.Collected, tenantName string) string {
	switch state {
	case session.StateGreeting:
		return greeting(tenantName)
	case session.StateConfirmItems:
		return "Even herhalen: " + orderSummary(c) + ". Klopt dat?"
	case session.StateConfirmAppointment:
		return "Even herhalen: " + appointmentSummary(c) + ". Klopt dat?"
	case session.StateConfirmed, session.StateDone:
		return closing(c, tenantName)
	case session.StateFailed:
		return "Het spijt me, ik kan u op dit moment niet verder helpen. Belt u ons straks nog eens terug? Excuses voor het ongemak."
	}
	q, ok := questions[state]
	if !ok {
		return "Waarmee kan ik u helpen?"
	}
	if echo := echoFor(state, c); echo != "" {
		return echo + " " + q
	}
	return q
}

// Reprompt asks the same question again after a turn that gave no answer.
func Reprompt(state session.State, c slots.Collected, tenantName string, attempt int) string {
	opener := "Sorry, dat heb ik niet goed verstaan."
	if attempt > 1 {
		opener = "Sorry, ik heb het nog steeds niet goed begrepen."
	}
	switch state {
	case session.StateConfirmItems, session.StateConfirmAppointment:
		return "Sorry, ik heb geen ja of nee gehoord. " + Render(state, c, tenantName)
	case session.StateFailed, session.StateConfirmed, session.StateDone, session.StateGreeting:
		return Render(state, c, tenantName)
	}
	if q, ok := questions[state]; ok {
		return opener + " " + q
	}
	return Render(state, c, tenantName)
}

func greeting(tenantName string) string {
	name := strings.TrimSpace(tenantName)
	if name == "" {
		return "Goeiedag, waarmee kan ik u helpen?"
	}
	return fmt.Sprintf("Goeiedag, u spreekt met %s. Waarmee kan ik u helpen?", name)
}

// echoFor repeats the slot that precedes the one being asked, which is the
// slot the caller normally just gave.
func echoFor(state session.State, c slots.Collected) string {
	switch state {
	case session.StateCollectingDelivery:
		if len(c.Items) > 0 {
			return "Genoteerd: " + itemList(c.Items) + "."
		}
	case session.StateCollectingAddress:
		if c.DeliveryType == slots.DeliveryDelivery {
			return "We leveren het bij u thuis."
		}
	case session.StateCollectingDate:
		if c.Service != "" {
			return c.Service + ", genoteerd."
		}
	case session.StateCollectingTime:
		if c.Date != "" {
			return "Op " + SpokenDate(c.Date) + "."
		}
	case session.StateCollectingName:
		if c.Service != "" && c.Date != "" && c.Time != "" {
			return fmt.Sprintf("%s op %s om %s.", c.Service, SpokenDate(c.Date), SpokenTime(c.Time))
		}
		switch {
		case c.DeliveryType == slots.DeliveryDelivery && c.Address != "":
			return "We leveren op " + c.Address + "."
		case c.DeliveryType == slots.DeliveryPickup:
			return "U komt het afhalen."
		}
	case session.StateCollectingPhone:
		if c.CustomerName != "" {
			return "Dank u, " + c.CustomerName + "."
		}
	}
	return ""
}

func orderSummary(c slots.Collected) string {
	parts := []string{itemList(c.Items) + ", samen " + FormatEuros(c.TotalCents())}
	switch c.DeliveryType {
	case slots.DeliveryPickup:
		parts = append(parts, "af te halen")
	case slots.DeliveryDelivery:
		if c.Address != "" {
			parts = append(parts, "te leveren op "+c.Address)
		} else {
			parts = append(parts, "te leveren")
		}
	}
	return strings.Join(append(parts, identity(c)...), ", ")
}

func appointmentSummary(c slots.Collected) string {
	parts := []string{fmt.Sprintf("%s op %s om %s", c.Service, SpokenDate(c.Date), SpokenTime(c.Time))}
	return strings.Join(append(parts, identity(c)...), ", ")
}

func identity(c slots.Collected) []string {
	var parts []string
	if c.CustomerName != "" {
		parts = append(parts, "op naam van "+c.CustomerName)
	}
	if c.CustomerPhone != "" {
		parts = append(parts, "telefoonnummer "+SpokenPhone(c.CustomerPhone))
	}
	return parts
}

func closing(c slots.Collected, tenantName string) string {
	thanks := "Bedankt voor uw telefoon"
	if name := strings.TrimSpace(tenantName); name != "" {
		thanks += " naar " + name
	}
	if c.Service != "" {
		return fmt.Sprintf("Prima, uw afspraak op %s om %s staat vast. %s, tot dan!", SpokenDate(c.Date), SpokenTime(c.Time), thanks)
	}
	if c.DeliveryType == slots.DeliveryDelivery {
		return "Prima, uw bestelling is genoteerd en wordt geleverd. " + thanks + ", smakelijk!"
	}
	return "Prima, uw bestelling is genoteerd en ligt straks klaar. " + thanks + ", tot zo!"
}

func itemList(items []slots.LineItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%d keer %s", item.Quantity, item.Label))
	}
	switch len(parts) {
	case 0:
		return "niets"
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " en " + parts[len(parts)-1]
}
