package query

import (
	"strings"

	"scholarpilot.dev/core/internal/domain"
)

// quickIndicators and fullIndicators are the multilingual keyword sets the
// QueryParser uses to route a query to QUICK or FULL; FULL is the default
// when neither set matches.
var quickIndicators = []string{
	"quick", "brief", "fast", "short", "nhanh", "ngắn", "rápido", "breve", "rapide", "bref", "schnell", "kurz",
}

var fullIndicators = []string{
	"comprehensive", "thorough", "survey", "detailed", "in-depth", "in depth",
	"chi tiết", "toàn diện", "kỹ lưỡng",
	"exhaustivo", "detallado", "completo",
	"approfondi", "détaillé", "complet",
	"umfassend", "ausführlich", "gründlich",
}

// genericStopwords are stripped when deriving a MainTopic from a raw query.
// It intentionally overlaps only partially with internal/tools' English
// search-significance stopword set: this one also drops first-person
// request framing ("give me", "cho tôi") common in conversational input,
// which a search query never contains.
var genericStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "please": true,
	"give": true, "me": true, "some": true, "papers": true, "about": true,
	"research": true, "on": true, "find": true, "i": true, "want": true,
	"cho": true, "tôi": true, "một": true, "vài": true, "về": true,
}

// Parser implements the QueryParser parse step: stopword stripping,
// QUICK/FULL routing, URL extraction.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// classifyType routes a lowercased query to QUICK or FULL; QUICK requires
// an explicit quick-indicator with no full-indicator also present (a
// comprehensive-but-quick phrasing is contradictory and defaults FULL).
func classifyType(lower string) domain.QueryType {
	if containsAny(lower, fullIndicators) {
		return domain.QueryTypeFull
	}
	if containsAny(lower, quickIndicators) {
		return domain.QueryTypeQuick
	}
	return domain.QueryTypeFull
}

// MainTopic strips generic framing stopwords from a raw query, returning
// the remaining significant words joined back together. Unlike
// tools.SignificantKeywords it keeps original word order and casing for
// exact words, since this feeds plan/report display text rather than a
// search API.
func MainTopic(raw string) string {
	words := strings.Fields(raw)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if clean == "" || genericStopwords[clean] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(raw)
	}
	return strings.Join(kept, " ")
}

// Parse runs the QueryParser step over a raw user query.
func (p *Parser) Parse(raw string) domain.QueryInfo {
	lower := strings.ToLower(raw)
	lang := DetectLanguage(raw)
	qtype := classifyType(lower)
	urls := ExtractURLs(raw)
	topic := MainTopic(raw)

	return domain.QueryInfo{
		OriginalQuery: raw,
		Type:          qtype,
		MainTopic:     topic,
		URLs:          urls,
		SkipSynthesis: qtype == domain.QueryTypeQuick,
		Language:      lang,
	}
}
