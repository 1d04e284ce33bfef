// Package query implements the Query Analyzer: language detection,
// complexity classification, compound-query decomposition, URL extraction,
// and QUICK/FULL routing (spec.md §4.3).
package query

import (
	"regexp"
	"strings"
)

// indicatorWords holds, per supported non-English language, a set of
// common words whose presence is a strong signal the user wrote in that
// language. A language only "wins" when at least two distinct indicator
// words from its set appear in the message; otherwise detection falls
// back to English.
var indicatorWords = map[string][]string{
	"vi": {"là", "của", "và", "cho", "tôi", "nghiên", "cứu", "có", "thể", "một", "vài", "những", "được", "với"},
	"es": {"el", "la", "de", "que", "y", "en", "para", "investigación", "artículos", "sobre", "un", "una"},
	"fr": {"le", "la", "de", "et", "pour", "recherche", "articles", "sur", "des", "les", "un", "une"},
	"de": {"der", "die", "das", "und", "für", "forschung", "artikel", "über", "eine", "ein"},
}

// languageOrder fixes a deterministic evaluation order so ties (equal
// distinct-word counts) resolve the same way every time.
var languageOrder = []string{"vi", "es", "fr", "de"}

var wordSplit = regexp.MustCompile(`[\p{L}\p{N}]+`)

// DetectLanguage classifies free text into one of the supported language
// codes, defaulting to "en" when fewer than two distinct indicator words
// of any other supported language are present.
func DetectLanguage(text string) string {
	words := wordSplit.FindAllString(strings.ToLower(text), -1)
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	best := "en"
	bestCount := 1 // English wins any tie at 0 or 1 indicator words.
	for _, lang := range languageOrder {
		count := 0
		for _, indicator := range indicatorWords[lang] {
			if present[indicator] {
				count++
			}
		}
		if count >= 2 && count > bestCount {
			best = lang
			bestCount = count
		}
	}
	return best
}

// urlPattern extracts bare http(s) URLs from raw user text.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURLs returns every URL found in text, in order of first
// appearance, regardless of the caller's classified intent — §4.1 requires
// URL extraction to run unconditionally on every turn.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if matches == nil {
		return nil
	}
	out := make([]string, len(matches))
	copy(out, matches)
	return out
}

// MergeURLs appends any url in fresh not already present in existing,
// preserving existing's order and fresh's discovery order.
func MergeURLs(existing, fresh []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, u := range existing {
		seen[u] = true
	}
	out := existing
	for _, u := range fresh {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
