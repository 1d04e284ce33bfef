package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/cache"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
	"scholarpilot.dev/core/internal/tools"
)

func newTestRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.ToolDefinition{
		Name: "search",
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return []tools.PaperResult{
				{Title: "Vision Transformer Architecture", Authors: []string{"Alice"}, ArxivID: "2301.00001", SourceType: "arxiv"},
				{Title: "BERT Pretraining", DOI: "10.1234/test", SourceType: "arxiv"},
			}, nil
		},
	})
	return r
}

func TestExecutorRunDedupsAcrossSteps(t *testing.T) {
	registry := newTestRegistry()
	c := cache.New(kv.NewMemoryStore(), nil)
	ex := New(registry, c)

	plan := &domain.ResearchPlan{
		Topic: "transformers",
		Steps: []domain.ResearchStep{
			{ID: 1, Action: domain.ActionResearch, ToolName: "search", ToolArgs: map[string]any{"query": "transformers"}},
			{ID: 2, Action: domain.ActionResearch, ToolName: "search", ToolArgs: map[string]any{"query": "transformers"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, "plan-1", nil)
	require.NoError(t, err)

	assert.Len(t, result.Papers, 2, "second step's identical results should be deduplicated")
	assert.Equal(t, 2, result.Aggregate.TotalUnique)
	assert.True(t, plan.Steps[0].Completed)
	assert.True(t, plan.Steps[1].Completed)
	for _, p := range result.Papers {
		assert.Equal(t, "plan-1", p.PlanID)
	}
}

func TestExecutorSkipsSynthesisOnlySteps(t *testing.T) {
	registry := newTestRegistry()
	c := cache.New(kv.NewMemoryStore(), nil)
	ex := New(registry, c)

	plan := &domain.ResearchPlan{
		Steps: []domain.ResearchStep{
			{ID: 1, Action: domain.ActionSynthesize, SynthesisOnly: true},
		},
	}

	result, err := ex.Run(context.Background(), plan, "plan-2", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Papers)
	assert.Empty(t, result.StepMetrics)
}

func TestExecutorRecordsFailedStep(t *testing.T) {
	registry := tools.NewRegistry()
	// no "search" tool registered -> ExecuteTool returns ErrToolNotFound
	c := cache.New(kv.NewMemoryStore(), nil)
	ex := New(registry, c)

	plan := &domain.ResearchPlan{
		Steps: []domain.ResearchStep{
			{ID: 1, Action: domain.ActionResearch, ToolName: "search", ToolArgs: map[string]any{"query": "x"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, "plan-3", nil)
	require.NoError(t, err)
	require.Len(t, result.StepMetrics, 1)
	assert.True(t, result.StepMetrics[0].Failed)
	assert.Equal(t, 1, result.Aggregate.FailedSteps)
	assert.False(t, plan.Steps[0].Completed)
}
