// Package catalog holds a tenant's read-only product or service list and
// the matching and pricing rules applied to it.
package catalog

import (
	"sort"
	"strings"
)

// Item is one sellable product, modifier, or bookable service.
type Item struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	// IsModifier marks condiments/sauces that attach to another item.
	IsModifier bool `json:"is_modifier,omitempty"`
	SortOrder  int  `json:"sort_order"`
}

// Category carries the category-level pricing flag.
type Category struct {
	Name string `json:"name"`
	// CondimentIncluded means modifiers on items of this category are part
	// of the item price and add nothing.
	CondimentIncluded bool `json:"condiment_included,omitempty"`
}

// Catalog is the per-tenant list of items.
type Catalog struct {
	Items      []Item     `json:"items"`
	Categories []Category `json:"categories,omitempty"`
}

// Sorted returns a copy of the catalog with items in sort order; the tie
// breaker for equal sort orders is the name.
func (c Catalog) Sorted() Catalog {
	items := make([]Item, len(c.Items))
	copy(items, c.Items)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].Name < items[j].Name
	})
	return Catalog{Items: items, Categories: c.Categories}
}

// Products returns the non-modifier items.
func (c Catalog) Products() []Item {
	out := make([]Item, 0, len(c.Items))
	for _, item := range c.Items {
		if !item.IsModifier {
			out = append(out, item)
		}
	}
	return out
}

// Modifiers returns the modifier items.
func (c Catalog) Modifiers() []Item {
	var out []Item
	for _, item := range c.Items {
		if item.IsModifier {
			out = append(out, item)
		}
	}
	return out
}

// Lookup finds an item by exact normalized name.
func (c Catalog) Lookup(name string) (Item, bool) {
	key := Normalize(name)
	if key == "" {
		return Item{}, false
	}
	for _, item := range c.Items {
		if Normalize(item.Name) == key {
			return item, true
		}
	}
	return Item{}, false
}

// CondimentIncluded reports whether category has the included-condiment flag.
func (c Catalog) CondimentIncluded(category string) bool {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Name, category) {
			return cat.CondimentIncluded
		}
	}
	return false
}

// Empty reports whether the catalog has no items.
func (c Catalog) Empty() bool {
	return len(c.Items) == 0
}
