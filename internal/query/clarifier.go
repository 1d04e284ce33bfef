package query

import (
	"context"
	"fmt"
	"strings"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// Complexity is the QueryClarifier's classification of a raw query.
type Complexity string

const (
	ComplexitySimple    Complexity = "SIMPLE"
	ComplexityCompound  Complexity = "COMPOUND"
	ComplexityAmbiguous Complexity = "AMBIGUOUS"
)

// compoundJoiners are the multilingual conjunctions whose presence, plus a
// comma-separated pair where both parts are at least 4 characters, marks a
// query COMPOUND.
var compoundJoiners = []string{" and ", " then ", " và ", " rồi "}

// explorationWords signal the user is asking whether/how something is
// possible rather than stating a concrete topic — AMBIGUOUS.
var explorationWords = []string{
	"can ", "could ", "possible", "how to", "how can", "có thể", "liệu",
}

// ClassifyComplexity implements the QueryClarifier's complexity rule: a
// compound joiner (or a sufficiently long comma-separated pair) makes a
// query COMPOUND; an exploration phrase makes it AMBIGUOUS; otherwise it's
// SIMPLE. Compound is checked first since "X and can Y" should read as
// compound, not merely ambiguous about Y.
func ClassifyComplexity(raw string) Complexity {
	lower := " " + strings.ToLower(raw) + " "

	if containsAny(lower, compoundJoiners) || hasLongCommaPair(raw) {
		return ComplexityCompound
	}
	if containsAny(lower, explorationWords) {
		return ComplexityAmbiguous
	}
	return ComplexitySimple
}

func hasLongCommaPair(raw string) bool {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return false
	}
	return len(strings.TrimSpace(parts[0])) >= 4 && len(strings.TrimSpace(parts[1])) >= 4
}

// shortSimpleWordLimit is the word count below which a SIMPLE query skips
// clarification outright.
const shortSimpleWordLimit = 6

// NeedsClarification reports whether the raw query should route through
// CLARIFYING before planning: any non-SIMPLE complexity, or a SIMPLE query
// that isn't short.
func NeedsClarification(raw string) bool {
	complexity := ClassifyComplexity(raw)
	if complexity != ComplexitySimple {
		return true
	}
	return len(strings.Fields(raw)) >= shortSimpleWordLimit
}

// maxClarifyingQuestions bounds the questions a clarification round
// surfaces to the user.
const maxClarifyingQuestions = 2

const clarifierSystemPrompt = `You help a research assistant clarify an ambiguous or compound query before planning a literature search. Always reply in the language of the user's query.`

var clarifierPromptTemplate = `The user asked: %q

Produce exactly three lines in this format, nothing else:
UNDERSTANDING: <one sentence restating what you believe the user wants>
SUBQUERIES: <comma-separated list of distinct focused search queries this breaks into, or the original query if it doesn't decompose>
QUESTIONS: <at most two clarifying questions, separated by " | ", or NONE if no clarification is needed>`

type clarifyResponse struct {
	Understanding string   `json:"understanding"`
	Subqueries    []string `json:"subqueries"`
	Questions     []string `json:"questions"`
}

// Clarifier asks the LLM (in the detected language) to produce an
// UNDERSTANDING/SUBQUERIES/QUESTIONS triple for a compound or ambiguous
// query, decoding the structured reply into clarifyResponse.
type Clarifier struct {
	client llm.Client
}

func NewClarifier(client llm.Client) *Clarifier {
	return &Clarifier{client: client}
}

// Clarify builds a PendingClarification for the raw query. On LLM failure
// or an empty client, it falls back to a single generic question so the
// Orchestrator always has something to show the user.
func (c *Clarifier) Clarify(ctx context.Context, raw, language string) domain.PendingClarification {
	if c.client == nil {
		return fallbackClarification(raw, language)
	}

	var resp clarifyResponse
	prompt := fmt.Sprintf(clarifierPromptTemplate, raw)
	_, err := c.client.Chat(ctx, llm.Request{
		SystemPrompt: clarifierSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "clarification",
		Schema:       llm.GenerateSchema[clarifyResponse](),
		Temperature:  llm.Temp(0.3),
	}, &resp)
	if err != nil || resp.Understanding == "" {
		return fallbackClarification(raw, language)
	}

	questions := resp.Questions
	if len(questions) > maxClarifyingQuestions {
		questions = questions[:maxClarifyingQuestions]
	}

	return domain.PendingClarification{
		OriginalQuery: raw,
		Understanding: resp.Understanding,
		Questions:     questions,
		Language:      language,
	}
}

// ParseLineFormat tolerantly parses the UNDERSTANDING/SUBQUERIES/QUESTIONS
// triple out of free-form prose in the line format clarifierPromptTemplate
// describes. Clarify does not call it; it decodes the structured reply.
func ParseLineFormat(text string) (understanding string, subqueries, questions []string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "UNDERSTANDING:"):
			understanding = strings.TrimSpace(line[strings.Index(line, ":")+1:])
		case strings.HasPrefix(strings.ToUpper(line), "SUBQUERIES:"):
			raw := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			for _, sq := range strings.Split(raw, ",") {
				if sq = strings.TrimSpace(sq); sq != "" {
					subqueries = append(subqueries, sq)
				}
			}
		case strings.HasPrefix(strings.ToUpper(line), "QUESTIONS:"):
			raw := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			if strings.EqualFold(raw, "NONE") {
				continue
			}
			for _, q := range strings.Split(raw, "|") {
				if q = strings.TrimSpace(q); q != "" {
					questions = append(questions, q)
				}
			}
		}
	}
	if len(questions) > maxClarifyingQuestions {
		questions = questions[:maxClarifyingQuestions]
	}
	return understanding, subqueries, questions
}

func fallbackClarification(raw, language string) domain.PendingClarification {
	question := "Could you say a bit more about what aspect of this topic matters most to you?"
	if language == "vi" {
		question = "Bạn có thể nói rõ hơn khía cạnh nào của chủ đề này quan trọng nhất với bạn không?"
	}
	return domain.PendingClarification{
		OriginalQuery: raw,
		Understanding: raw,
		Questions:     []string{question},
		Language:      language,
	}
}
