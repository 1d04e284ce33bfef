package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// ClaimGenerator synthesizes atomic, evidence-grounded claims per cluster.
type ClaimGenerator struct {
	client llm.Client
}

func NewClaimGenerator(client llm.Client) *ClaimGenerator {
	return &ClaimGenerator{client: client}
}

type llmClaim struct {
	Text            string   `json:"text"`
	EvidenceSpanIDs []string `json:"evidence_span_ids"` // must reference ids from the prompt's span list
	Salience        float64  `json:"salience"`
	Uncertain       bool     `json:"uncertain"`
}

type claimResponse struct {
	Claims []llmClaim `json:"claims"`
}

const claimSystemPrompt = `You write atomic, salience-scored claims that summarize a cluster of research papers.
Every claim must cite at least one of the given evidence_span_id values as evidence_span_ids — never
invent a span id. salience is in [0,1]. Set uncertain=true when the evidence is mixed or weak.`

// Generate produces claims for one cluster, grounded only in the given
// spans (spans must belong to papers in cluster.PaperIDs). Claims citing
// no valid span id are dropped — the ≥1-evidence-span invariant is
// enforced here, not left to the caller.
func (g *ClaimGenerator) Generate(ctx context.Context, cluster domain.Cluster, spans []domain.EvidenceSpan) ([]domain.Claim, error) {
	if len(spans) == 0 {
		return nil, nil
	}
	if g.client == nil {
		return nil, fmt.Errorf("synthesis: no LLM client configured")
	}

	validSpans := make(map[string]bool, len(spans))
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster: %s — %s\n\nEvidence spans:\n", cluster.Name, cluster.Description)
	for _, s := range spans {
		validSpans[s.SpanID] = true
		fmt.Fprintf(&b, "- span_id=%s field=%s snippet=%q\n", s.SpanID, s.Field, s.Snippet)
	}

	var resp claimResponse
	_, err := g.client.Chat(ctx, llm.Request{
		SystemPrompt: claimSystemPrompt,
		UserPrompt:   b.String(),
		SchemaName:   "claim_response",
		Schema:       llm.GenerateSchema[claimResponse](),
		Temperature:  llm.Temp(0.3),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("synthesis: generate claims: %w", err)
	}

	var claims []domain.Claim
	for _, c := range resp.Claims {
		var validIDs []string
		for _, id := range c.EvidenceSpanIDs {
			if validSpans[id] {
				validIDs = append(validIDs, id)
			}
		}
		if len(validIDs) == 0 {
			continue // invariant: every claim cites ≥1 real evidence span
		}
		claims = append(claims, domain.Claim{
			ClaimID:         uuid.NewString(),
			Text:            c.Text,
			EvidenceSpanIDs: validIDs,
			ThemeID:         cluster.ID,
			Salience:        clamp01(c.Salience),
			UncertaintyFlag: c.Uncertain,
		})
	}
	return claims, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
