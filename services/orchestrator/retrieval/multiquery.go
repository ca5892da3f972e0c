package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCare/pkg/envutil"
	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
)

// MultiQueryConfig holds configuration for multi-query retrieval.
type MultiQueryConfig struct {
	// MaxQueries caps the number of paraphrases generated per query.
	// Default: 3 (can be set via MULTI_QUERY_MAX)
	MaxQueries int

	// IncludeOriginal also searches the unmodified query.
	// Default: true (can be set via MULTI_QUERY_INCLUDE_ORIGINAL)
	IncludeOriginal bool
}

// DefaultMultiQueryConfig returns the default multi-query configuration.
func DefaultMultiQueryConfig() MultiQueryConfig {
	return MultiQueryConfig{
		MaxQueries:      envutil.Int("MULTI_QUERY_MAX", 3),
		IncludeOriginal: envutil.Bool("MULTI_QUERY_INCLUDE_ORIGINAL", true),
	}
}

// MultiQueryRetriever expands a query into paraphrases and merges their results.
//
// # Description
//
// The language model writes up to MaxQueries versions of the query. Each
// version is retrieved with the base retriever concurrently. Results are
// merged in query order (original first when included), dropping chunks whose
// content was already returned.
//
// When the paraphrases cannot be generated or parsed, the original query is
// retrieved alone. The first base retrieval error cancels the others and is
// returned.
//
// # Thread Safety
//
// MultiQueryRetriever is safe for concurrent use.
type MultiQueryRetriever struct {
	generate llm.GenerateFunc
	base     Retriever
	prompts  prompts.Provider
	config   MultiQueryConfig
}

// NewMultiQueryRetriever creates a multi-query retriever over base.
func NewMultiQueryRetriever(generate llm.GenerateFunc, base Retriever, provider prompts.Provider, config MultiQueryConfig) *MultiQueryRetriever {
	if config.MaxQueries <= 0 {
		config.MaxQueries = 3
	}
	return &MultiQueryRetriever{
		generate: generate,
		base:     base,
		prompts:  provider,
		config:   config,
	}
}

// Name implements Retriever.
func (r *MultiQueryRetriever) Name() string { return "multi_query" }

// Retrieve implements Retriever.
func (r *MultiQueryRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.MultiQuery")
	defer span.End()

	queries := r.Queries(ctx, query)
	span.SetAttributes(attribute.Int("queries", len(queries)))

	results := make([][]datatypes.DocumentChunk, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			chunks, err := r.base.Retrieve(gctx, q)
			if err != nil {
				return err
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var merged []datatypes.DocumentChunk
	for _, chunks := range results {
		merged = append(merged, chunks...)
	}
	out := DedupeByContent(merged)
	span.SetAttributes(attribute.Int("chunks", len(out)))
	return out, nil
}

// Queries returns the distinct queries to search for query: the original
// (when configured) followed by at most MaxQueries paraphrases.
func (r *MultiQueryRetriever) Queries(ctx context.Context, query string) []string {
	var queries []string
	if r.config.IncludeOriginal {
		queries = append(queries, query)
	}

	paraphrases, err := r.paraphrase(ctx, query)
	if err != nil {
		slog.Warn("Query expansion failed, searching the original query only", "error", err)
		return []string{query}
	}
	if len(paraphrases) > r.config.MaxQueries {
		paraphrases = paraphrases[:r.config.MaxQueries]
	}

	seen := make(map[string]struct{}, len(paraphrases)+1)
	for _, q := range queries {
		seen[normalizeQuery(q)] = struct{}{}
	}
	for _, p := range paraphrases {
		key := normalizeQuery(p)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, p)
	}
	if len(queries) == 0 {
		return []string{query}
	}
	return queries
}

func (r *MultiQueryRetriever) paraphrase(ctx context.Context, query string) ([]string, error) {
	prompt, err := r.prompts.Prompts().Render(prompts.MultiQuery, map[string]string{
		"count":    strconv.Itoa(r.config.MaxQueries),
		"question": query,
	})
	if err != nil {
		return nil, err
	}
	response, err := r.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("expansion LLM call failed: %w", err)
	}
	return ParseQueries(response)
}

// listMarker matches list numbering and bullets at the start of a line.
var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// ParseQueries reads the paraphrases from a model response.
//
// # Description
//
// The expected answer is a JSON object {"queries": [...]}, possibly wrapped
// in prose or a code fence; the text between the first "{" and the last "}"
// is decoded. When there is no JSON object, every non-empty line is a query
// with list numbering removed.
func ParseQueries(response string) ([]string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end > start {
		var result struct {
			Queries []string `json:"queries"`
		}
		if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		queries := cleanQueries(result.Queries)
		if len(queries) == 0 {
			return nil, fmt.Errorf("no queries in response")
		}
		return queries, nil
	}

	var lines []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "`")
		if line == "" {
			continue
		}
		lines = append(lines, listMarker.ReplaceAllString(line, ""))
	}
	queries := cleanQueries(lines)
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries in response")
	}
	return queries, nil
}

func cleanQueries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = strings.Trim(strings.TrimSpace(q), `"`)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
