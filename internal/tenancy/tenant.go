// Package tenancy resolves the business a call belongs to. Every entry
// point resolves a tenant before any conversation work starts; there is no
// default tenant.
package tenancy

import (
	"errors"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/catalog"
	"github.com/wolfman30/voice-receptionist/internal/slots"
)

// ErrTenantNotFound is returned for empty, unknown, or inactive tenant ids.
var ErrTenantNotFound = errors.New("tenancy: tenant not found")

// Tenant is the read-only configuration of one business plus its catalog.
type Tenant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Flow        slots.Flow `json:"flow"`
	Timezone    string     `json:"timezone"`
	NotifyEmail string     `json:"notify_email,omitempty"`
	// RetryBudget overrides the global per-slot retry budget when > 0.
	RetryBudget int             `json:"retry_budget,omitempty"`
	Active      bool            `json:"active"`
	Catalog     catalog.Catalog `json:"catalog"`
}

// Location returns the tenant's time zone, falling back to Europe/Brussels.
func (t *Tenant) Location() *time.Location {
	if t != nil && t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		return time.UTC
	}
	return loc
}
