// Package synthesis implements the FULL pipeline's post-execution phases:
// screening, evidence extraction, clustering, claim generation, gap
// mining, citation audit, and report writing (spec.md §4.6).
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// ScreenBatchSize is the number of papers sent to the LLM per screening
// call — large enough to amortize the call, small enough to stay inside a
// reasonable context budget.
const ScreenBatchSize = 15

// Screener assigns each paper a core/background/exclude tier.
type Screener struct {
	client llm.Client
	topic  string
}

func NewScreener(client llm.Client, topic string) *Screener {
	return &Screener{client: client, topic: topic}
}

type screenVerdict struct {
	PaperID   string `json:"paper_id"`
	Tier      string `json:"tier"`
	Reason    string `json:"reason"`
	Rationale string `json:"rationale"`
	Relevance float64 `json:"relevance"`
}

type screenResponse struct {
	Verdicts []screenVerdict `json:"verdicts"`
}

const screenerSystemPrompt = `You are a research paper screener. Given a research topic and a batch of
candidate papers (title + abstract), classify each into one tier:
  - "core": directly addresses the topic, should be read in full
  - "background": related but tangential, worth summarizing briefly
  - "exclude": off-topic or out of scope
Return one verdict per paper_id, with a one-sentence reason and a relevance score 0-10.`

// Screen classifies papers in batches of ScreenBatchSize. A batch that
// fails its LLM call falls back to the safe default: every paper in it is
// kept at "background" so a transient error never silently drops a paper
// from the corpus.
func (s *Screener) Screen(ctx context.Context, papers []domain.Paper) []domain.ScreeningRecord {
	var records []domain.ScreeningRecord

	for start := 0; start < len(papers); start += ScreenBatchSize {
		end := start + ScreenBatchSize
		if end > len(papers) {
			end = len(papers)
		}
		batch := papers[start:end]

		verdicts, err := s.screenBatch(ctx, batch)
		if err != nil {
			records = append(records, safeDefaultRecords(batch, "error_fallback")...)
			continue
		}
		records = append(records, verdicts...)
	}
	return records
}

func (s *Screener) screenBatch(ctx context.Context, batch []domain.Paper) ([]domain.ScreeningRecord, error) {
	if s.client == nil {
		return nil, fmt.Errorf("synthesis: no LLM client configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nCandidates:\n", s.topic)
	for _, p := range batch {
		fmt.Fprintf(&b, "- paper_id=%s title=%q abstract=%q\n", p.ID, p.Title, truncate(p.Abstract, 500))
	}

	var resp screenResponse
	_, err := s.client.Chat(ctx, llm.Request{
		SystemPrompt: screenerSystemPrompt,
		UserPrompt:   b.String(),
		SchemaName:   "screen_response",
		Schema:       llm.GenerateSchema[screenResponse](),
		Temperature:  llm.Temp(0.1),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("synthesis: screen batch: %w", err)
	}

	byID := make(map[string]screenVerdict, len(resp.Verdicts))
	for _, v := range resp.Verdicts {
		byID[v.PaperID] = v
	}

	records := make([]domain.ScreeningRecord, 0, len(batch))
	for _, p := range batch {
		v, ok := byID[p.ID]
		if !ok {
			records = append(records, safeDefaultRecord(p, "unscreened"))
			continue
		}
		tier := parseTier(v.Tier)
		records = append(records, domain.NewScreeningRecord(p.ID, tier, v.Reason, v.Rationale, v.Relevance))
	}
	return records, nil
}

func parseTier(raw string) domain.ScreeningTier {
	switch domain.ScreeningTier(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.TierCore:
		return domain.TierCore
	case domain.TierExclude:
		return domain.TierExclude
	default:
		return domain.TierBackground
	}
}

// safeDefaultRecord is the single-paper fallback: kept as background with
// a neutral relevance, never silently dropped. reason is "unscreened" when
// a successful batch simply omitted the paper's verdict, "error_fallback"
// when the batch's LLM call failed outright.
func safeDefaultRecord(p domain.Paper, reason string) domain.ScreeningRecord {
	return domain.NewScreeningRecord(p.ID, domain.TierBackground, reason, "no screener verdict, defaulted to background", 5.0)
}

func safeDefaultRecords(batch []domain.Paper, reason string) []domain.ScreeningRecord {
	records := make([]domain.ScreeningRecord, len(batch))
	for i, p := range batch {
		records[i] = safeDefaultRecord(p, reason)
	}
	return records
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
