// Package slots defines the structured values a call collects: the flows,
// slot names, and the entity/collected shapes shared by extraction, the
// session state machine, and the response renderer.
package slots

import "strings"

// Flow identifies which kind of result a tenant's calls produce.
type Flow string

const (
	FlowOrder       Flow = "order"
	FlowAppointment Flow = "appointment"
)

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	return f == FlowOrder || f == FlowAppointment
}

// Name is a slot identifier.
type Name string

const (
	Items         Name = "items"
	DeliveryType  Name = "delivery_type"
	Address       Name = "address"
	CustomerName  Name = "customer_name"
	CustomerPhone Name = "customer_phone"
	Service       Name = "service"
	Date          Name = "date"
	Time          Name = "time"
	// Confirmation is the pseudo-slot asked during a read-back.
	Confirmation Name = "confirmation"
)

const (
	DeliveryPickup   = "pickup"
	DeliveryDelivery = "delivery"
)

// LineItem is one ordered product. Prices are in cents.
type LineItem struct {
	Product        string   `json:"product"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	Modifiers      []string `json:"modifiers,omitempty"`
	Label          string   `json:"label"`
}

// TotalCents is quantity times unit price.
func (l LineItem) TotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

// Equal compares two line items field by field.
func (l LineItem) Equal(o LineItem) bool {
	if l.Product != o.Product || l.Quantity != o.Quantity || l.UnitPriceCents != o.UnitPriceCents || l.Label != o.Label {
		return false
	}
	if len(l.Modifiers) != len(o.Modifiers) {
		return false
	}
	for i := range l.Modifiers {
		if l.Modifiers[i] != o.Modifiers[i] {
			return false
		}
	}
	return true
}

// Collected is the accumulated slot state of a session. Empty values mean
// the slot is not filled yet.
type Collected struct {
	Items         []LineItem `json:"items,omitempty"`
	DeliveryType  string     `json:"delivery_type,omitempty"`
	Address       string     `json:"address,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Service       string     `json:"service,omitempty"`
	Date          string     `json:"date,omitempty"` // YYYY-MM-DD
	Time          string     `json:"time,omitempty"` // HH:MM, 24h
}

// Has reports whether slot is filled.
func (c Collected) Has(slot Name) bool {
	switch slot {
	case Items:
		return len(c.Items) > 0
	case DeliveryType:
		return c.DeliveryType != ""
	case Address:
		return c.Address != ""
	case CustomerName:
		return c.CustomerName != ""
	case CustomerPhone:
		return c.CustomerPhone != ""
	case Service:
		return c.Service != ""
	case Date:
		return c.Date != ""
	case Time:
		return c.Time != ""
	}
	return false
}

// Clear empties slot.
func (c *Collected) Clear(slot Name) {
	switch slot {
	case Items:
		c.Items = nil
	case DeliveryType:
		c.DeliveryType = ""
	case Address:
		c.Address = ""
	case CustomerName:
		c.CustomerName = ""
	case CustomerPhone:
		c.CustomerPhone = ""
	case Service:
		c.Service = ""
	case Date:
		c.Date = ""
	case Time:
		c.Time = ""
	}
}

// TotalCents sums all line items.
func (c Collected) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.TotalCents()
	}
	return total
}

// Required lists the required slots of flow in asking order. The address is
// only required for delivery orders.
func Required(flow Flow, c Collected) []Name {
	switch flow {
	case FlowAppointment:
		return []Name{Service, Date, Time, CustomerName, CustomerPhone}
	default:
		required := []Name{Items, DeliveryType}
		if c.DeliveryType == DeliveryDelivery {
			required = append(required, Address)
		}
		return append(required, CustomerName, CustomerPhone)
	}
}

// Entities is what a single turn yielded. Only non-empty fields carry
// information.
type Entities struct {
	Items         []LineItem `json:"items,omitempty"`
	DeliveryType  string     `json:"delivery_type,omitempty"`
	Address       string     `json:"address,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Service       string     `json:"service,omitempty"`
	Date          string     `json:"date,omitempty"`
	Time          string     `json:"time,omitempty"`
	Confirmation  *bool      `json:"confirmation,omitempty"`
}

// Has reports whether the turn produced a value for slot.
func (e Entities) Has(slot Name) bool {
	if slot == Confirmation {
		return e.Confirmation != nil
	}
	return e.asCollected().Has(slot)
}

// Empty reports whether nothing was extracted.
func (e Entities) Empty() bool {
	if e.Confirmation != nil {
		return false
	}
	c := e.asCollected()
	for _, slot := range []Name{Items, DeliveryType, Address, CustomerName, CustomerPhone, Service, Date, Time} {
		if c.Has(slot) {
			return false
		}
	}
	return true
}

// Filled lists the slots the turn produced, in a stable order.
func (e Entities) Filled() []Name {
	var out []Name
	c := e.asCollected()
	for _, slot := range []Name{Items, DeliveryType, Address, CustomerName, CustomerPhone, Service, Date, Time} {
		if c.Has(slot) {
			out = append(out, slot)
		}
	}
	return out
}

func (e Entities) asCollected() Collected {
	return Collected{
		Items:         e.Items,
		DeliveryType:  e.DeliveryType,
		Address:       e.Address,
		CustomerName:  e.CustomerName,
		CustomerPhone: e.CustomerPhone,
		Service:       e.Service,
		Date:          e.Date,
		Time:          e.Time,
	}
}

// Applicable drops entities that do not belong to flow.
func (e Entities) Applicable(flow Flow) Entities {
	out := Entities{
		CustomerName:  strings.TrimSpace(e.CustomerName),
		CustomerPhone: strings.TrimSpace(e.CustomerPhone),
		Confirmation:  e.Confirmation,
	}
	switch flow {
	case FlowAppointment:
		out.Service = strings.TrimSpace(e.Service)
		out.Date = e.Date
		out.Time = e.Time
	default:
		out.Items = e.Items
		out.DeliveryType = e.DeliveryType
		out.Address = strings.TrimSpace(e.Address)
	}
	return out
}
