package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/domain"
)

func TestPlanFallbackContiguousIDs(t *testing.T) {
	p := New(nil, nil) // nil llm client forces the fallback path
	req := domain.ResearchRequest{
		Topic:        "vision transformers",
		SeedKeywords: []string{"ViT"},
		SourceURLs:   []string{"https://arxiv.org/abs/2010.11929"},
		Questions:    []string{"How do ViTs compare to CNNs?"},
	}

	plan, err := p.Plan(context.Background(), req)
	require.NoError(t, err)

	for i, step := range plan.Steps {
		assert.Equal(t, i+1, step.ID)
	}

	assert.Equal(t, domain.ActionCollect, plan.Steps[0].Action)
	assert.Equal(t, "collect_urls", plan.Steps[0].ToolName)

	var researchStep *domain.ResearchStep
	for i := range plan.Steps {
		if plan.Steps[i].Action == domain.ActionResearch {
			researchStep = &plan.Steps[i]
			break
		}
	}
	require.NotNil(t, researchStep)
	assert.Contains(t, researchStep.Queries, "ViT")

	lastStep := plan.Steps[len(plan.Steps)-1]
	assert.Contains(t, lastStep.Title, "question")
}

func TestInjectUserDataIsIdempotentOnNoUserData(t *testing.T) {
	req := domain.ResearchRequest{Topic: "BERT"}
	plan := fallbackPlan(req)
	before := len(plan.Steps)
	injectUserData(&plan, req)
	assert.Equal(t, before, len(plan.Steps))
}
