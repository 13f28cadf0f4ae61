// Package notify tells tenant staff about orders and appointments taken
// over the phone.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/voice-receptionist/internal/commit"
	"github.com/wolfman30/voice-receptionist/internal/response"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// TenantResolver looks up the tenant a result belongs to.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
}

// ResultNotifier emails the tenant's notify address for every newly
// committed result. Tenants without an address are skipped.
type ResultNotifier struct {
	sender  EmailSender
	tenants TenantResolver
	logger  *logging.Logger
}

func NewResultNotifier(sender EmailSender, tenants TenantResolver, logger *logging.Logger) *ResultNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &ResultNotifier{sender: sender, tenants: tenants, logger: logger}
}

// ResultCommitted implements commit.Notifier.
func (n *ResultNotifier) ResultCommitted(ctx context.Context, r commit.Result) error {
	if n == nil || n.sender == nil || n.tenants == nil {
		return nil
	}
	tenant, err := n.tenants.Resolve(ctx, r.TenantID)
	if err != nil {
		return fmt.Errorf("notify: resolve tenant: %w", err)
	}
	if tenant.NotifyEmail == "" {
		n.logger.Debug("notify: tenant has no notify email", "tenant_id", r.TenantID)
		return nil
	}

	msg, ok := buildMessage(tenant, r)
	if !ok {
		return nil
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

func buildMessage(tenant *tenancy.Tenant, r commit.Result) (EmailMessage, bool) {
	msg := EmailMessage{To: tenant.NotifyEmail, ToName: tenant.DisplayName}
	var b strings.Builder
	switch {
	case r.Order != nil:
		o := r.Order
		msg.Subject = fmt.Sprintf("Nieuwe telefonische bestelling: %s", o.CustomerName)
		for _, item := range o.Items {
			fmt.Fprintf(&b, "%dx %s  %s\n", item.Quantity, item.Label, response.FormatEuros(item.TotalCents()))
		}
		fmt.Fprintf(&b, "\nTotaal: %s\n", response.FormatEuros(o.TotalCents))
		if o.DeliveryType == "delivery" {
			fmt.Fprintf(&b, "Levering op: %s\n", o.Address)
		} else {
			b.WriteString("Afhalen\n")
		}
		fmt.Fprintf(&b, "Naam: %s\nTelefoon: %s\n", o.CustomerName, o.CustomerPhone)
	case r.Appointment != nil:
		a := r.Appointment
		msg.Subject = fmt.Sprintf("Nieuwe afspraak: %s op %s", a.Service, response.SpokenDate(a.Date))
		fmt.Fprintf(&b, "Dienst: %s\nDatum: %s\nUur: %s\n", a.Service, a.Date, a.Time)
		fmt.Fprintf(&b, "Naam: %s\nTelefoon: %s\n", a.CustomerName, a.CustomerPhone)
	default:
		return EmailMessage{}, false
	}
	fmt.Fprintf(&b, "\nGesprek: %s\n", r.CallID)
	msg.Body = b.String()
	return msg, true
}
