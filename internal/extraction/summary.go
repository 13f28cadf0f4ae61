package extraction

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

// Summary is a provider's end-of-call extraction, keyed by slot name.
// Items may be a list of product names or of {product, quantity,
// modifiers} objects.
type Summary map[string]json.RawMessage

// FromSummary validates a provider summary with the same rules applied to
// model output: catalog names must exist, prices come from the catalog,
// and malformed fields are dropped.
func (e *Extractor) FromSummary(summary Summary, req Request) slots.Entities {
	if len(summary) == 0 {
		return slots.Entities{}
	}
	fields := make([]string, 0, len(summary))
	for field := range summary {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var raw []modelEntity
	for _, field := range fields {
		value := summary[field]
		if strings.EqualFold(field, "items") {
			var list []json.RawMessage
			if err := json.Unmarshal(value, &list); err == nil {
				for _, v := range list {
					raw = append(raw, modelEntity{Field: "item", Value: v})
				}
				continue
			}
		}
		raw = append(raw, modelEntity{Field: field, Value: value})
	}

	req.Catalog = req.Catalog.Sorted()
	req.ActiveSlot = ""
	return e.validateModelEntities(raw, req).Applicable(req.Flow)
}
