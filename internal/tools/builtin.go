package tools

import (
	"context"
	"fmt"

	"scholarpilot.dev/core/common/llm"
)

// SearchArgs is the search tool's argument schema.
type SearchArgs struct {
	Query      string   `json:"query" jsonschema:"required,description=Natural-language or keyword search query"`
	MaxResults int      `json:"max_results,omitempty" jsonschema:"description=Maximum results to return,default=20"`
	Categories []string `json:"categories,omitempty" jsonschema:"description=Optional category filter"`
}

// CollectURLArgs is the collect_url tool's argument schema.
type CollectURLArgs struct {
	URL string `json:"url" jsonschema:"required,description=A paper, feed, or web page URL to resolve"`
}

// CollectURLsArgs is the collect_urls tool's argument schema.
type CollectURLsArgs struct {
	URLs []string `json:"urls" jsonschema:"required,description=A batch of URLs to resolve"`
}

// HFTrendingArgs is the hf_trending tool's argument schema.
type HFTrendingArgs struct {
	MaxResults int `json:"max_results,omitempty" jsonschema:"description=Maximum trending papers to return,default=10"`
}

// stringSliceArg coerces a tool argument into a []string. Args constructed
// in-process (by the planner or a gate-rejection rewrite) arrive as
// []string directly; args that crossed a JSON boundary arrive as []any of
// strings. Accepting both keeps the two callers from needing to agree on a
// representation.
func stringSliceArg(v any) []string {
	switch raw := v.(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, u := range raw {
			if s, ok := u.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// RegisterBuiltins wires the search, collect_url, collect_urls, and
// hf_trending tools into registry, the only way the rest of the system
// reaches the outside world for paper ingestion.
func RegisterBuiltins(registry *Registry, llmClient llm.Client) {
	arxivClient := NewArxivClient()
	openAlexClient := NewOpenAlexClient()
	refiner := NewQueryRefiner(llmClient)
	searcher := NewSearcher(arxivClient, openAlexClient, refiner)
	collector := NewCollector()
	trending := NewHFTrendingClient()

	registry.Register(ToolDefinition{
		Name:        "search",
		Description: "Multi-source parallel search across ArXiv and OpenAlex with quality gating and query refinement",
		Parameters:  SchemaFor[SearchArgs](),
		Tags:        []string{"ingestion", "async"},
		IsAsync:     true,
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("search: query is required")
			}
			maxResults := 20
			if mr, ok := args["max_results"].(float64); ok && mr > 0 {
				maxResults = int(mr)
			}
			return searcher.Search(ctx, query, maxResults)
		},
	})

	registry.Register(ToolDefinition{
		Name:        "collect_url",
		Description: "Resolve a single URL (arXiv link, feed, or web page) into a paper record",
		Parameters:  SchemaFor[CollectURLArgs](),
		Tags:        []string{"ingestion"},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			rawURL, _ := args["url"].(string)
			if rawURL == "" {
				return nil, fmt.Errorf("collect_url: url is required")
			}
			return collector.CollectURL(ctx, rawURL)
		},
	})

	registry.Register(ToolDefinition{
		Name:        "collect_urls",
		Description: "Resolve a batch of URLs into paper records, skipping ones that fail to resolve",
		Parameters:  SchemaFor[CollectURLsArgs](),
		Tags:        []string{"ingestion"},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return collector.CollectURLs(ctx, stringSliceArg(args["urls"])), nil
		},
	})

	registry.Register(ToolDefinition{
		Name:        "hf_trending",
		Description: "List currently trending papers from Hugging Face's daily papers feed",
		Parameters:  SchemaFor[HFTrendingArgs](),
		Tags:        []string{"ingestion", "optional"},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			maxResults := 10
			if mr, ok := args["max_results"].(float64); ok && mr > 0 {
				maxResults = int(mr)
			}
			return trending.Trending(ctx, maxResults), nil
		},
	})
}
