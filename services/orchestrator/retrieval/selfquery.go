package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

// AttributeInfo declares one filterable metadata attribute to the model.
type AttributeInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "number" or "string"
	Description string `json:"description"`
}

// ProductDocumentContents describes the product summaries for self-query.
const ProductDocumentContents = "Summary of the product"

// ProductAttributes is the attribute schema of product chunks.
var ProductAttributes = []AttributeInfo{
	{Name: datatypes.MetaPrice, Type: "number", Description: "Price of the product"},
}

// StructuredQuery is what the model extracts from a question.
type StructuredQuery struct {
	Query  string      `json:"query"`
	Filter []Condition `json:"filter"`
}

// Condition is one extracted attribute comparison.
type Condition struct {
	Attribute  string `json:"attribute"`
	Comparator string `json:"comparator"`
	Value      any    `json:"value"`
}

// comparators maps accepted comparator spellings to filter operators.
var comparators = map[string]vectorstore.Operator{
	"eq": vectorstore.OpEq, "=": vectorstore.OpEq, "==": vectorstore.OpEq,
	"ne": vectorstore.OpNe, "!=": vectorstore.OpNe,
	"lt": vectorstore.OpLt, "<": vectorstore.OpLt,
	"lte": vectorstore.OpLte, "<=": vectorstore.OpLte,
	"gt": vectorstore.OpGt, ">": vectorstore.OpGt,
	"gte": vectorstore.OpGte, ">=": vectorstore.OpGte,
}

var errNoValidConditions = errors.New("no valid conditions in extracted filter")

// SelfQueryRetriever retrieves with a filter the model extracts from the question.
//
// # Description
//
// The model sees the attribute schema and returns a semantic query plus
// conditions such as {"attribute": "price", "comparator": "lt", "value": 50000}.
// Valid conditions are combined with the static filter (and) and pushed down
// to the vector store. Returned chunks are checked against the combined
// filter again, so every result satisfies the extracted predicate.
//
// Two cases run without an extracted predicate, static filter kept:
//   - no conditions requested: logged at debug, metric reason "none"
//   - unusable model output: logged as a warning, metric reason "extraction_failed"
//
// # Thread Safety
//
// SelfQueryRetriever is safe for concurrent use.
type SelfQueryRetriever struct {
	generate         llm.GenerateFunc
	embedder         llm.Embedder
	store            vectorstore.Store
	prompts          prompts.Provider
	documentContents string
	attributes       []AttributeInfo
	static           *vectorstore.Filter
	k                int
	metrics          *observability.Metrics
}

// SelfQueryOption configures a SelfQueryRetriever.
type SelfQueryOption func(*SelfQueryRetriever)

// WithMetrics records fallbacks on m.
func WithMetrics(m *observability.Metrics) SelfQueryOption {
	return func(r *SelfQueryRetriever) { r.metrics = m }
}

// NewSelfQueryRetriever creates a self-query retriever over the product schema.
func NewSelfQueryRetriever(generate llm.GenerateFunc, embedder llm.Embedder, store vectorstore.Store, provider prompts.Provider, static *vectorstore.Filter, k int, opts ...SelfQueryOption) *SelfQueryRetriever {
	if k <= 0 {
		k = vectorstore.DefaultK
	}
	r := &SelfQueryRetriever{
		generate:         generate,
		embedder:         embedder,
		store:            store,
		prompts:          provider,
		documentContents: ProductDocumentContents,
		attributes:       ProductAttributes,
		static:           static,
		k:                k,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements Retriever.
func (r *SelfQueryRetriever) Name() string { return "self_query" }

// Retrieve implements Retriever.
func (r *SelfQueryRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.SelfQuery")
	defer span.End()

	semantic, extracted, err := r.extract(ctx, query)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("Self-query extraction failed, retrieving without extracted filter",
			"error", err, "staticFilter", r.static.String())
		r.metrics.RecordSelfQueryFallback(observability.FallbackReasonExtractionFailed)
		semantic = query
	case extracted == nil:
		slog.Debug("Self-query requested no filter", "staticFilter", r.static.String())
		r.metrics.RecordSelfQueryFallback(observability.FallbackReasonNone)
	}

	filter := vectorstore.And(r.static, extracted)
	span.SetAttributes(
		attribute.String("filter", filter.String()),
		attribute.String("semantic_query", semantic),
	)

	chunks, err := Search(ctx, r.embedder, r.store, semantic, filter, r.k)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]datatypes.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if filter.Match(c.Metadata) {
			out = append(out, c)
		}
	}
	span.SetAttributes(attribute.Int("chunks", len(out)))
	return out, nil
}

// extract asks the model for the structured query. A nil filter with a nil
// error means the question has no attribute conditions.
func (r *SelfQueryRetriever) extract(ctx context.Context, query string) (string, *vectorstore.Filter, error) {
	prompt, err := r.prompts.Prompts().Render(prompts.SelfQuery, map[string]string{
		"document_contents": r.documentContents,
		"attributes":        renderAttributes(r.attributes),
		"question":          query,
	})
	if err != nil {
		return "", nil, err
	}

	response, err := r.generate(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("self-query LLM call failed: %w", err)
	}

	sq, err := ParseStructuredQuery(response)
	if err != nil {
		return "", nil, err
	}

	semantic := strings.TrimSpace(sq.Query)
	if semantic == "" {
		semantic = query
	}
	if len(sq.Filter) == 0 {
		return semantic, nil, nil
	}

	filter, err := r.BuildFilter(sq.Filter)
	if err != nil {
		return "", nil, err
	}
	return semantic, filter, nil
}

// BuildFilter translates conditions into a filter. Conditions on unknown
// attributes, with unknown comparators or with values of the wrong type are
// dropped; an error is returned when none remain.
func (r *SelfQueryRetriever) BuildFilter(conditions []Condition) (*vectorstore.Filter, error) {
	var valid []*vectorstore.Filter
	for _, c := range conditions {
		f, err := r.condition(c)
		if err != nil {
			slog.Debug("Dropping self-query condition", "attribute", c.Attribute, "comparator", c.Comparator, "error", err)
			continue
		}
		valid = append(valid, f)
	}
	if len(valid) == 0 {
		return nil, errNoValidConditions
	}
	return vectorstore.And(valid...), nil
}

func (r *SelfQueryRetriever) condition(c Condition) (*vectorstore.Filter, error) {
	attr, ok := r.attribute(c.Attribute)
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q", c.Attribute)
	}
	op, ok := comparators[strings.ToLower(strings.TrimSpace(c.Comparator))]
	if !ok {
		return nil, fmt.Errorf("unknown comparator %q", c.Comparator)
	}

	var value any
	switch attr.Type {
	case "number":
		n, ok := datatypes.ToFloat(c.Value)
		if !ok {
			return nil, fmt.Errorf("value %v is not a number", c.Value)
		}
		value = n
	default:
		s, ok := c.Value.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("value %v is not a string", c.Value)
		}
		if op.IsOrdering() {
			return nil, fmt.Errorf("comparator %q needs a number attribute", c.Comparator)
		}
		value = s
	}

	f := &vectorstore.Filter{Operator: op, Attribute: attr.Name, Value: value}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *SelfQueryRetriever) attribute(name string) (AttributeInfo, bool) {
	name = strings.TrimSpace(name)
	for _, a := range r.attributes {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

// ParseStructuredQuery decodes the JSON object between the first "{" and the
// last "}" of a model response.
func ParseStructuredQuery(response string) (StructuredQuery, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return StructuredQuery{}, fmt.Errorf("no valid JSON found in response")
	}
	var sq StructuredQuery
	if err := json.Unmarshal([]byte(response[start:end+1]), &sq); err != nil {
		return StructuredQuery{}, fmt.Errorf("failed to unmarshal structured query: %w", err)
	}
	return sq, nil
}

func renderAttributes(attrs []AttributeInfo) string {
	lines := make([]string, 0, len(attrs))
	for _, a := range attrs {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", a.Name, a.Type, a.Description))
	}
	return strings.Join(lines, "\n")
}
