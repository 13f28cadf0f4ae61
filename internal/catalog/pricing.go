package catalog

import (
	"strings"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

// LineItem prices product with the given modifiers for quantity.
//
// Modifiers always appear in the label. They add their own price unless the
// product's category is condiment-included, in which case they are free.
func (c Catalog) LineItem(product Item, modifiers []Item, quantity int) slots.LineItem {
	if quantity < 1 {
		quantity = 1
	}
	price := product.PriceCents
	included := c.CondimentIncluded(product.Category)

	names := make([]string, 0, len(modifiers))
	for _, mod := range modifiers {
		names = append(names, mod.Name)
		if !included {
			price += mod.PriceCents
		}
	}

	label := product.Name
	if len(names) > 0 {
		label += " met " + strings.Join(names, " en ")
	}
	return slots.LineItem{
		Product:        product.Name,
		Quantity:       quantity,
		UnitPriceCents: price,
		Modifiers:      names,
		Label:          label,
	}
}
