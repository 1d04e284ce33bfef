package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// GapMiner mines FutureDirections from three sources: limitation-tagged
// evidence spans, contradictory results across papers in the same (theme,
// dataset, metric) cell, and empty taxonomy cells.
type GapMiner struct {
	client llm.Client
}

func NewGapMiner(client llm.Client) *GapMiner {
	return &GapMiner{client: client}
}

type gapCandidate struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type gapResponse struct {
	Gaps []gapCandidate `json:"gaps"`
}

const gapSystemPrompt = `You identify research gaps from a set of claims grouped by theme. Classify each gap as
open_problem, research_opportunity, or next_experiment. Ground each gap in the limitation-tagged
evidence given; do not invent gaps unrelated to the material.`

// MineFromLimitations asks the LLM to surface gaps from the given
// limitation-tagged evidence (spec.md §4.6's StudyCards/spans input, not
// Claims — gap_mining runs on raw extracted evidence, independent of
// whatever claim_generation separately produced from the same spans). On
// failure it returns no gaps rather than fabricating placeholders.
func (m *GapMiner) MineFromLimitations(ctx context.Context, limitationSpans []domain.EvidenceSpan) ([]domain.FutureDirection, error) {
	if len(limitationSpans) == 0 || m.client == nil {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Limitation evidence:\n")
	for _, s := range limitationSpans {
		fmt.Fprintf(&b, "- span_id=%s snippet=%q\n", s.SpanID, s.Snippet)
	}

	var resp gapResponse
	_, err := m.client.Chat(ctx, llm.Request{
		SystemPrompt: gapSystemPrompt,
		UserPrompt:   b.String(),
		SchemaName:   "gap_response",
		Schema:       llm.GenerateSchema[gapResponse](),
		Temperature:  llm.Temp(0.4),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("synthesis: mine gaps: %w", err)
	}

	spanIDs := make([]string, len(limitationSpans))
	for i, s := range limitationSpans {
		spanIDs[i] = s.SpanID
	}

	directions := make([]domain.FutureDirection, 0, len(resp.Gaps))
	for _, g := range resp.Gaps {
		directions = append(directions, domain.FutureDirection{
			Type:              parseDirectionType(g.Type),
			Title:             g.Title,
			Description:       g.Description,
			LimitationSpanIDs: spanIDs,
			Source:            domain.GapSourceLimitationCluster,
		})
	}
	return directions, nil
}

func parseDirectionType(raw string) domain.FutureDirectionType {
	switch domain.FutureDirectionType(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.DirectionResearchOpportunity:
		return domain.DirectionResearchOpportunity
	case domain.DirectionNextExperiment:
		return domain.DirectionNextExperiment
	default:
		return domain.DirectionOpenProblem
	}
}

// MineFromTaxonomy turns each empty (theme, dataset, metric) cell into a
// research_opportunity direction. This is deterministic — no LLM call, no source
// of hallucination — since the holes are exact structural facts about the
// taxonomy.
func MineFromTaxonomy(matrix domain.TaxonomyMatrix) []domain.FutureDirection {
	holes := matrix.EmptyCells()
	directions := make([]domain.FutureDirection, len(holes))
	for i, h := range holes {
		directions[i] = domain.FutureDirection{
			Type:        domain.DirectionResearchOpportunity,
			Title:       fmt.Sprintf("%s × %s × %s is unexplored", h.Theme, h.Dataset, h.Metric),
			Description: fmt.Sprintf("No paper in the corpus reports %s results on %s for the %s theme.", h.Metric, h.Dataset, h.Theme),
			Source:      domain.GapSourceTaxonomyHole,
		}
	}
	return directions
}

// resultNumber matches the first percentage or bare decimal in a result
// string, e.g. "improves accuracy by 4.2%" or "F1 of 91.3".
var resultNumber = regexp.MustCompile(`-?\b\d+(\.\d+)?`)

// firstNumber extracts the first numeric token in s, if any.
func firstNumber(s string) (float64, bool) {
	m := resultNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// contradictionTolerance is how far apart two papers' reported numbers for
// the same (theme, dataset, metric) cell must be before they are flagged
// as contradictory rather than ordinary measurement noise.
const contradictionTolerance = 5.0

// MineFromContradictions finds taxonomy cells shared by ≥ 2 papers whose
// StudyCard.Results numbers diverge by more than contradictionTolerance,
// and turns each into a FutureDirection. Deterministic — no LLM call — the
// same way MineFromTaxonomy is, since "two papers reported numbers differ"
// is a structural fact about the extracted cards, not a judgment call.
func MineFromContradictions(matrix domain.TaxonomyMatrix, cards map[string]domain.StudyCard) []domain.FutureDirection {
	var directions []domain.FutureDirection

	keys := make([]domain.TaxonomyCellKey, 0, len(matrix.Cells))
	for key := range matrix.Cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Theme != keys[j].Theme {
			return keys[i].Theme < keys[j].Theme
		}
		if keys[i].Dataset != keys[j].Dataset {
			return keys[i].Dataset < keys[j].Dataset
		}
		return keys[i].Metric < keys[j].Metric
	})

	for _, key := range keys {
		paperIDs := matrix.Cells[key]
		if len(paperIDs) < 2 {
			continue
		}

		type reading struct {
			paperID string
			value   float64
			spans   []string
		}
		var readings []reading
		for _, id := range paperIDs {
			card, ok := cards[id]
			if !ok {
				continue
			}
			v, ok := firstNumber(card.Results)
			if !ok {
				continue
			}
			readings = append(readings, reading{paperID: id, value: v, spans: card.EvidenceSpanIDs})
		}
		if len(readings) < 2 {
			continue
		}

		lo, hi := readings[0], readings[0]
		for _, r := range readings[1:] {
			if r.value < lo.value {
				lo = r
			}
			if r.value > hi.value {
				hi = r
			}
		}
		if hi.value-lo.value <= contradictionTolerance {
			continue
		}

		var spanIDs []string
		spanIDs = append(spanIDs, lo.spans...)
		spanIDs = append(spanIDs, hi.spans...)

		directions = append(directions, domain.FutureDirection{
			Type:  domain.DirectionOpenProblem,
			Title: fmt.Sprintf("Conflicting %s results on %s in %s", key.Metric, key.Dataset, key.Theme),
			Description: fmt.Sprintf(
				"Paper %s reports %s=%.2f while paper %s reports %s=%.2f on %s; reconcile the discrepancy before citing either as definitive.",
				lo.paperID, key.Metric, lo.value, hi.paperID, key.Metric, hi.value, key.Dataset),
			LimitationSpanIDs: spanIDs,
			Source:            domain.GapSourceContradictoryResults,
		})
	}
	return directions
}
