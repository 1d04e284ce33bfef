package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"scholarpilot.dev/core/common/llm"
)

// maxRefinerSuggestions bounds how many alternative queries one refinement
// round may propose.
const maxRefinerSuggestions = 3

// QueryRefiner rewrites a search query that returned too few or too noisy
// results. It prefers an LLM rewrite and falls back to a deterministic
// heuristic when the LLM is unavailable or its rewrite fails to decode.
type QueryRefiner struct {
	client llm.Client
}

func NewQueryRefiner(client llm.Client) *QueryRefiner {
	return &QueryRefiner{client: client}
}

type refinedQueries struct {
	Queries []string `json:"queries"`
}

const refinerPrompt = `The search query %q returned too few relevant results.
Queries already tried (do not repeat any of them): %s
Propose 2-3 alternative search queries more likely to surface relevant
academic papers. Keep each concise.`

// Suggest returns up to maxRefinerSuggestions alternative queries, none of
// which appear in tried. The LLM is given the tried list so it avoids
// repeating them; anything it repeats anyway is filtered here. On LLM
// failure (or no client) the deterministic heuristic supplies the one
// fallback suggestion.
func (r *QueryRefiner) Suggest(ctx context.Context, original string, tried []string) []string {
	triedSet := make(map[string]bool, len(tried))
	for _, q := range tried {
		triedSet[strings.ToLower(strings.TrimSpace(q))] = true
	}

	var candidates []string
	if r.client != nil {
		var out refinedQueries
		_, err := r.client.Chat(ctx, llm.Request{
			UserPrompt:  fmt.Sprintf(refinerPrompt, original, strings.Join(tried, "; ")),
			SchemaName:  "refined_queries",
			Schema:      llm.GenerateSchema[refinedQueries](),
			Temperature: llm.Temp(0.3),
		}, &out)
		if err == nil {
			candidates = out.Queries
		}
	}
	candidates = append(candidates, HeuristicRefine(original))

	var suggestions []string
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || triedSet[key] || seen[key] {
			continue
		}
		seen[key] = true
		suggestions = append(suggestions, c)
		if len(suggestions) >= maxRefinerSuggestions {
			break
		}
	}
	return suggestions
}

var versionSuffixPattern = regexp.MustCompile(`\s*v[0-9]+(\.[0-9]+)?\s*$`)

// HeuristicRefine strips a trailing version suffix and appends "survey" to
// widen an over-narrow query toward review-style papers that tend to have
// broader citation graphs; a query that already mentions "survey" is
// returned without it. A single-word query is widened the same way and is
// never returned bare.
func HeuristicRefine(query string) string {
	cleaned := versionSuffixPattern.ReplaceAllString(strings.TrimSpace(query), "")

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}
	if len(words) == 1 {
		// A single bare word is rarely a useful suggestion on its own;
		// widen it instead of narrowing further.
		return cleaned + " survey"
	}
	if strings.Contains(strings.ToLower(cleaned), "survey") {
		return cleaned
	}
	return cleaned + " survey"
}
