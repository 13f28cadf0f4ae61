package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-receptionist/internal/commit"
	"github.com/wolfman30/voice-receptionist/internal/slots"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type staticTenants map[string]*tenancy.Tenant

func (s staticTenants) Resolve(_ context.Context, id string) (*tenancy.Tenant, error) {
	t, ok := s[id]
	if !ok {
		return nil, tenancy.ErrTenantNotFound
	}
	return t, nil
}

var tenants = staticTenants{
	"hoek":  {ID: "hoek", DisplayName: "Frituur De Hoek", NotifyEmail: "baas@dehoek.be"},
	"salon": {ID: "salon", DisplayName: "Kapsalon Lisa"},
}

func orderResult() commit.Result {
	return commit.Result{
		ID: "o-1", Kind: commit.KindOrder, TenantID: "hoek", CallID: "call-1", Created: true,
		Order: &commit.Order{
			Items: []slots.LineItem{
				{Product: "friet", Quantity: 2, UnitPriceCents: 350, Label: "grote friet met mayonaise"},
			},
			DeliveryType:  "delivery",
			Address:       "Kerkstraat 12",
			CustomerName:  "Jan",
			CustomerPhone: "+32470123456",
			TotalCents:    700,
		},
	}
}

func TestResultNotifierSendsOrderSummary(t *testing.T) {
	sender := &recordingSender{}
	n := NewResultNotifier(sender, tenants, logging.Discard())

	require.NoError(t, n.ResultCommitted(context.Background(), orderResult()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "baas@dehoek.be", msg.To)
	assert.Contains(t, msg.Subject, "Jan")
	assert.Contains(t, msg.Body, "2x grote friet met mayonaise")
	assert.Contains(t, msg.Body, "Totaal: €7,00")
	assert.Contains(t, msg.Body, "Levering op: Kerkstraat 12")
	assert.True(t, strings.HasSuffix(msg.Body, "Gesprek: call-1\n"))
}

func TestResultNotifierAppointment(t *testing.T) {
	sender := &recordingSender{}
	n := NewResultNotifier(sender, staticTenants{
		"salon": {ID: "salon", DisplayName: "Kapsalon Lisa", NotifyEmail: "lisa@salon.be"},
	}, logging.Discard())

	err := n.ResultCommitted(context.Background(), commit.Result{
		Kind: commit.KindAppointment, TenantID: "salon", CallID: "call-2",
		Appointment: &commit.Appointment{Service: "knippen", Date: "2026-10-16", Time: "14:30", CustomerName: "An"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, "Dienst: knippen")
	assert.Contains(t, sender.sent[0].Body, "Uur: 14:30")
}

func TestResultNotifierSkipsTenantWithoutEmail(t *testing.T) {
	sender := &recordingSender{}
	n := NewResultNotifier(sender, tenants, logging.Discard())
	res := orderResult()
	res.TenantID = "salon"

	require.NoError(t, n.ResultCommitted(context.Background(), res))
	assert.Empty(t, sender.sent)
}

func TestResultNotifierErrors(t *testing.T) {
	n := NewResultNotifier(&recordingSender{err: errors.New("smtp down")}, tenants, logging.Discard())
	assert.Error(t, n.ResultCommitted(context.Background(), orderResult()))

	res := orderResult()
	res.TenantID = "ghost"
	assert.ErrorIs(t, n.ResultCommitted(context.Background(), res), tenancy.ErrTenantNotFound)
}

func TestNilResultNotifierIsNoop(t *testing.T) {
	var n *ResultNotifier
	assert.NoError(t, n.ResultCommitted(context.Background(), orderResult()))
}
