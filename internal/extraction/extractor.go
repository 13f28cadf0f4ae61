// Package extraction turns a caller utterance into slot entities. It tries
// a deterministic parse first, then fuzzy catalog matching, and only asks
// the language model when those find nothing or leave part of an order
// unrecognised.
package extraction

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/voice-receptionist/internal/catalog"
	"github.com/wolfman30/voice-receptionist/internal/llm"
	"github.com/wolfman30/voice-receptionist/internal/slots"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

var tracer = otel.Tracer("voice-receptionist.extraction")

// Strategy names the step that produced entities.
type Strategy string

const (
	StrategyDeterministic Strategy = "deterministic"
	StrategyFuzzy         Strategy = "fuzzy"
	StrategyModel         Strategy = "model"
)

const defaultModelTimeout = 4 * time.Second

// Request is one caller turn plus the context needed to interpret it.
type Request struct {
	Transcript   string
	Catalog      catalog.Catalog
	Flow         slots.Flow
	ActiveSlot   slots.Name
	CallerNumber string
	Now          time.Time
	Location     *time.Location
}

func (r Request) now() time.Time {
	now := r.Now
	if now.IsZero() {
		now = time.Now()
	}
	if r.Location != nil {
		now = now.In(r.Location)
	}
	return now
}

// Result holds the entities of a turn and which strategies contributed.
type Result struct {
	Entities   slots.Entities
	Strategies []Strategy
	// ModelFailed is set when the model was consulted but errored or timed out.
	ModelFailed bool
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithModel enables the language-model fallback.
func WithModel(client llm.Client, modelID string) Option {
	return func(e *Extractor) {
		e.client = client
		e.model = modelID
	}
}

// WithModelTimeout bounds each model call.
func WithModelTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Extractor is safe for concurrent use.
type Extractor struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

func New(logger *logging.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Extractor{timeout: defaultModelTimeout, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never fails: a model error or timeout yields whatever the
// deterministic and fuzzy steps found, possibly nothing.
func (e *Extractor) Extract(ctx context.Context, req Request) Result {
	req.Catalog = req.Catalog.Sorted()
	var res Result
	if strings.TrimSpace(req.Transcript) == "" {
		return res
	}

	ents := parseDeterministic(req)
	if !ents.Empty() {
		res.Strategies = append(res.Strategies, StrategyDeterministic)
	}

	unmatched := 0
	switch {
	case !matchesCatalog(req.ActiveSlot):
	case req.Flow == slots.FlowAppointment:
		if svc, ok := matchService(req.Transcript, req.Catalog); ok {
			ents.Service = svc
			res.Strategies = append(res.Strategies, StrategyFuzzy)
		}
	default:
		parsed := matchItems(req.Transcript, req.Catalog)
		if len(parsed.items) > 0 {
			ents.Items = parsed.items
			res.Strategies = append(res.Strategies, StrategyFuzzy)
		}
		unmatched = parsed.unmatched
	}
	ents = ents.Applicable(req.Flow)

	if e.client == nil || (!ents.Empty() && unmatched == 0) {
		res.Entities = ents
		return res
	}

	modelEnts, err := e.runModel(ctx, req)
	if err != nil {
		e.logger.Warn("model extraction failed", "error", err, "active_slot", req.ActiveSlot)
		res.ModelFailed = true
		res.Entities = ents
		return res
	}
	modelEnts = modelEnts.Applicable(req.Flow)
	if !modelEnts.Empty() {
		res.Strategies = append(res.Strategies, StrategyModel)
	}
	res.Entities = combine(ents, modelEnts)
	return res
}

func (e *Extractor) runModel(ctx context.Context, req Request) (slots.Entities, error) {
	ctx, span := tracer.Start(ctx, "extraction.model")
	defer span.End()
	span.SetAttributes(
		attribute.String("flow", string(req.Flow)),
		attribute.String("active_slot", string(req.ActiveSlot)),
	)
	ents, err := e.modelExtract(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model extraction failed")
		return slots.Entities{}, err
	}
	span.SetAttributes(attribute.Int("entities", len(ents.Filled())))
	return ents, nil
}

// matchesCatalog skips catalog matching for turns that answer a free-text
// slot, such as a name or address that happens to resemble a product.
func matchesCatalog(active slots.Name) bool {
	switch active {
	case slots.CustomerName, slots.Address, slots.CustomerPhone:
		return false
	}
	return true
}

// combine keeps earlier-strategy values and lets the model fill the gaps.
// Model items win only when they cover more lines than the fuzzy match.
func combine(base, model slots.Entities) slots.Entities {
	out := base
	if len(model.Items) > len(base.Items) {
		out.Items = model.Items
	}
	if out.DeliveryType == "" {
		out.DeliveryType = model.DeliveryType
	}
	if out.Address == "" {
		out.Address = model.Address
	}
	if out.CustomerName == "" {
		out.CustomerName = model.CustomerName
	}
	if out.CustomerPhone == "" {
		out.CustomerPhone = model.CustomerPhone
	}
	if out.Service == "" {
		out.Service = model.Service
	}
	if out.Date == "" {
		out.Date = model.Date
	}
	if out.Time == "" {
		out.Time = model.Time
	}
	if out.Confirmation == nil {
		out.Confirmation = model.Confirmation
	}
	return out
}
