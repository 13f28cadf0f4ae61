package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/catalog"
	"github.com/wolfman30/voice-receptionist/internal/llm"
	"github.com/wolfman30/voice-receptionist/internal/slots"
)

const modelSystemPrompt = `You extract structured order and booking details from one caller utterance of a phone call.
Respond with a JSON array only, no prose. Each element is {"field": "...", "value": ..., "confidence": 0.0-1.0}.

Fields:
- item: value {"product": "<exact catalog product>", "quantity": <int>, "modifiers": ["<exact catalog modifier>"]}
- delivery_type: "pickup" or "delivery"
- address: street and number
- customer_name: the caller's name
- customer_phone: digits only, optional leading +
- service: "<exact catalog product>"
- date: YYYY-MM-DD
- time: HH:MM (24h)
- confirmation: true or false, only when the caller answers a read-back

Only use product and modifier names from the catalog. Omit anything you are unsure about.
Return [] when the utterance contains none of these fields.`

// minModelConfidence drops low-confidence model entities.
const minModelConfidence = 0.5

type modelEntity struct {
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	Confidence *float64        `json:"confidence"`
}

type modelItem struct {
	Product   string   `json:"product"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers"`
	Modifier  string   `json:"modifier"`
}

func buildModelPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s (%s).\n", req.now().Format("2006-01-02"), req.now().Weekday())
	fmt.Fprintf(&b, "Flow: %s.\n", req.Flow)
	if req.ActiveSlot != "" {
		fmt.Fprintf(&b, "The assistant just asked for: %s.\n", req.ActiveSlot)
	}
	if products := req.Catalog.Products(); len(products) > 0 {
		b.WriteString("Catalog products:\n")
		for _, p := range products {
			fmt.Fprintf(&b, "- %s\n", p.Name)
		}
	}
	if modifiers := req.Catalog.Modifiers(); len(modifiers) > 0 {
		b.WriteString("Catalog modifiers:\n")
		for _, m := range modifiers {
			fmt.Fprintf(&b, "- %s\n", m.Name)
		}
	}
	fmt.Fprintf(&b, "\nUtterance: %q", req.Transcript)
	return b.String()
}

func (e *Extractor) modelExtract(ctx context.Context, req Request) (slots.Entities, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Complete(ctx, llm.Request{
		Model:       e.model,
		System:      []string{modelSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildModelPrompt(req)}},
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		return slots.Entities{}, fmt.Errorf("extraction: model call: %w", err)
	}
	raw, err := decodeModelEntities(resp.Text)
	if err != nil {
		return slots.Entities{}, err
	}
	return e.validateModelEntities(raw, req), nil
}

func decodeModelEntities(text string) ([]modelEntity, error) {
	text = stripCodeFence(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("extraction: model output has no JSON array")
	}
	var out []modelEntity
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("extraction: decode model output: %w", err)
	}
	return out, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// validateModelEntities keeps only values that can be checked: catalog
// names must exist and prices always come from the catalog.
func (e *Extractor) validateModelEntities(raw []modelEntity, req Request) slots.Entities {
	var out slots.Entities
	var drafts []draftItem
	for _, ent := range raw {
		if ent.Confidence != nil && *ent.Confidence < minModelConfidence {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(ent.Field))
		switch field {
		case "item", "items":
			if d, ok := modelDraft(ent.Value, req.Catalog); ok {
				drafts = append(drafts, d)
				continue
			}
		case "service":
			if s, ok := rawString(ent.Value); ok {
				if item, found := req.Catalog.Lookup(s); found && !item.IsModifier {
					out.Service = item.Name
					continue
				}
			}
		case "delivery_type":
			if s, ok := rawString(ent.Value); ok {
				switch strings.ToLower(s) {
				case slots.DeliveryPickup, slots.DeliveryDelivery:
					out.DeliveryType = strings.ToLower(s)
					continue
				}
			}
		case "address":
			if s, ok := rawString(ent.Value); ok && len(s) <= 200 {
				out.Address = s
				continue
			}
		case "customer_name":
			if s, ok := rawString(ent.Value); ok && len(s) <= 80 {
				out.CustomerName = s
				continue
			}
		case "customer_phone":
			if s, ok := rawString(ent.Value); ok {
				if p := NormalizePhone(s); digitCount(p) >= 9 && digitCount(p) <= 15 {
					out.CustomerPhone = p
					continue
				}
			}
		case "date":
			if s, ok := rawString(ent.Value); ok {
				if _, err := time.Parse("2006-01-02", s); err == nil {
					out.Date = s
					continue
				}
			}
		case "time":
			if s, ok := rawString(ent.Value); ok {
				if t, err := time.Parse("15:04", s); err == nil {
					out.Time = t.Format("15:04")
					continue
				}
			}
		case "confirmation":
			var v bool
			if req.ActiveSlot == slots.Confirmation && json.Unmarshal(ent.Value, &v) == nil {
				out.Confirmation = &v
				continue
			}
		}
		e.logger.Debug("dropped model entity", "field", field, "value", string(ent.Value))
	}
	out.Items = mergeLineItems(req.Catalog, drafts)
	return out
}

func modelDraft(raw json.RawMessage, cat catalog.Catalog) (draftItem, bool) {
	var mi modelItem
	if s, ok := rawString(raw); ok {
		mi.Product = s
	} else if err := json.Unmarshal(raw, &mi); err != nil {
		return draftItem{}, false
	}
	product, ok := cat.Lookup(mi.Product)
	if !ok || product.IsModifier {
		return draftItem{}, false
	}
	if mi.Quantity == 0 {
		mi.Quantity = 1
	}
	if mi.Quantity < 1 || mi.Quantity > 50 {
		return draftItem{}, false
	}
	names := mi.Modifiers
	if mi.Modifier != "" {
		names = append(names, mi.Modifier)
	}
	d := draftItem{product: product, quantity: mi.Quantity}
	for _, name := range names {
		mod, ok := cat.Lookup(name)
		if !ok || !mod.IsModifier {
			return draftItem{}, false
		}
		d.mods = appendUnique(d.mods, mod)
	}
	return d, true
}

func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
