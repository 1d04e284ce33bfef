package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
	"scholarpilot.dev/core/internal/memory"
	"scholarpilot.dev/core/internal/pipeline"
	"scholarpilot.dev/core/internal/planner"
	"scholarpilot.dev/core/internal/query"
)

// fakeRunner is a PipelineRunner double whose behavior a test controls
// directly, so execution-bridge tests never depend on real tools/LLM/store
// wiring.
type fakeRunner struct {
	mu      sync.Mutex
	block   chan struct{} // closed to let Run return
	err     error
	calls   int
	lastSess pipeline.Session
}

func (f *fakeRunner) Run(ctx context.Context, sess pipeline.Session) (domain.Report, error) {
	f.mu.Lock()
	f.calls++
	f.lastSess = sess
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.Report{}, ctx.Err()
		}
	}
	return domain.Report{Markdown: "# Report"}, f.err
}

func newTestOrchestrator(t *testing.T, runner PipelineRunner) (*Orchestrator, *memory.Fabric) {
	t.Helper()
	store := kv.NewMemoryStore()
	fabric := memory.NewFabric(store)
	parser := query.NewParser()
	clarifier := query.NewClarifier(nil)
	plnr := planner.New(nil, nil)
	adaptive := planner.NewAdaptivePlanner(plnr, parser)
	return New(fabric, parser, clarifier, adaptive, runner, nil), fabric
}

func TestHandleTurnSimpleQueryGoesStraightToReviewing(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	reply, err := orch.HandleTurn(context.Background(), "user-1", "conv-1", "BERT paper")
	require.NoError(t, err)
	assert.Contains(t, reply, "BERT paper")

	conv, err := fabric.Working.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, domain.StateReviewing, conv.State)
	require.NotNil(t, conv.PendingPlan)
	assert.NotEmpty(t, conv.PendingPlan.Steps)
}

func TestHandleTurnCompoundQueryGoesToClarifying(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	reply, err := orch.HandleTurn(context.Background(), "user-1", "conv-2", "find BERT papers and then summarize GPT papers")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)

	conv, err := fabric.Working.Get(context.Background(), "conv-2")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, domain.StateClarifying, conv.State)
	require.NotNil(t, conv.PendingClarification)
}

func TestHandleTurnClarifyingConfirmMovesToReviewing(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	_, err := orch.HandleTurn(context.Background(), "user-1", "conv-3", "find BERT papers and then summarize GPT papers")
	require.NoError(t, err)

	reply, err := orch.HandleTurn(context.Background(), "user-1", "conv-3", "ok")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)

	conv, err := fabric.Working.Get(context.Background(), "conv-3")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReviewing, conv.State)
}

func TestHandleTurnClarifyingCancelReturnsToIdle(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	_, err := orch.HandleTurn(context.Background(), "user-1", "conv-4", "find BERT papers and then summarize GPT papers")
	require.NoError(t, err)

	_, err = orch.HandleTurn(context.Background(), "user-1", "conv-4", "cancel")
	require.NoError(t, err)

	conv, err := fabric.Working.Get(context.Background(), "conv-4")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, conv.State)
	assert.Nil(t, conv.PendingClarification)
}

func TestHandleTurnEditAddsQueryAndIsIdempotent(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	_, err := orch.HandleTurn(context.Background(), "user-1", "conv-5", "BERT paper")
	require.NoError(t, err)

	_, err = orch.HandleTurn(context.Background(), "user-1", "conv-5", "add adapter tuning")
	require.NoError(t, err)

	conv, err := fabric.Working.Get(context.Background(), "conv-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReviewing, conv.State)

	found := false
	for _, step := range conv.PendingPlan.Steps {
		if step.Action == domain.ActionResearch {
			for _, q := range step.Queries {
				if q == "adapter tuning" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "expected 'adapter tuning' to be added to a research step")

	before := researchQueryCount(conv.PendingPlan)
	_, err = orch.HandleTurn(context.Background(), "user-1", "conv-5", "add adapter tuning")
	require.NoError(t, err)
	conv, err = fabric.Working.Get(context.Background(), "conv-5")
	require.NoError(t, err)
	assert.Equal(t, before, researchQueryCount(conv.PendingPlan), "re-issuing the same add must be a no-op")
}

func researchQueryCount(plan *domain.ResearchPlan) int {
	total := 0
	for _, step := range plan.Steps {
		if step.Action == domain.ActionResearch {
			total += len(step.Queries)
		}
	}
	return total
}

func TestHandleTurnReviewingCancelDiscardsPlan(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	_, err := orch.HandleTurn(context.Background(), "user-1", "conv-6", "BERT paper")
	require.NoError(t, err)

	_, err = orch.HandleTurn(context.Background(), "user-1", "conv-6", "cancel")
	require.NoError(t, err)

	conv, err := fabric.Working.Get(context.Background(), "conv-6")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, conv.State)
	assert.Nil(t, conv.PendingPlan)
}

func TestHandleTurnConfirmExecutesAndCompletes(t *testing.T) {
	runner := &fakeRunner{}
	orch, fabric := newTestOrchestrator(t, runner)

	_, err := orch.HandleTurn(context.Background(), "user-1", "conv-7", "BERT paper")
	require.NoError(t, err)

	reply, err := orch.HandleTurn(context.Background(), "user-1", "conv-7", "confirm")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)

	conv, err := fabric.Working.Get(context.Background(), "conv-7")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuting, conv.State)

	require.Eventually(t, func() bool {
		c, err := fabric.Working.Get(context.Background(), "conv-7")
		return err == nil && c != nil && c.State == domain.StateComplete
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, runner.calls)
}

func TestHandleTurnStillWorkingWhileExecuting(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	orch, fabric := newTestOrchestrator(t, runner)

	_, err := orch.HandleTurn(context.Background(), "user-1", "conv-8", "BERT paper")
	require.NoError(t, err)

	_, err = orch.HandleTurn(context.Background(), "user-1", "conv-8", "confirm")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.calls == 1
	}, time.Second, 5*time.Millisecond)

	reply, err := orch.HandleTurn(context.Background(), "user-1", "conv-8", "anything")
	require.NoError(t, err)
	assert.Contains(t, reply, "working")

	conv, err := fabric.Working.Get(context.Background(), "conv-8")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuting, conv.State)

	close(runner.block)
	require.Eventually(t, func() bool {
		c, err := fabric.Working.Get(context.Background(), "conv-8")
		return err == nil && c != nil && c.State == domain.StateComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleTurnChatReplyStaysIdle(t *testing.T) {
	orch, fabric := newTestOrchestrator(t, &fakeRunner{})

	reply, err := orch.HandleTurn(context.Background(), "user-1", "conv-9", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)

	conv, err := fabric.Working.Get(context.Background(), "conv-9")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, conv.State)
}

func TestClassifyIntentKeywordsWithNoLLM(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, IntentConfirm, ClassifyIntent(ctx, nil, domain.StateReviewing, "yes, go ahead"))
	assert.Equal(t, IntentCancel, ClassifyIntent(ctx, nil, domain.StateReviewing, "no, cancel that"))
	assert.Equal(t, IntentEdit, ClassifyIntent(ctx, nil, domain.StateReviewing, "add adapter tuning"))
	assert.Equal(t, IntentOther, ClassifyIntent(ctx, nil, domain.StateReviewing, "what is the capital of France"))
}

func TestParseEditDirective(t *testing.T) {
	d, ok := ParseEditDirective("add adapter tuning")
	require.True(t, ok)
	assert.Equal(t, "add", d.Kind)
	assert.Equal(t, "adapter tuning", d.Value)

	d, ok = ParseEditDirective("remove adapter")
	require.True(t, ok)
	assert.Equal(t, "remove", d.Kind)

	_, ok = ParseEditDirective("banana")
	assert.False(t, ok)
}

func TestApplyEditAddFallsBackWithoutResearchStep(t *testing.T) {
	plan := domain.ResearchPlan{Steps: []domain.ResearchStep{
		{Action: domain.ActionCollect},
	}}
	ApplyEdit(&plan, EditDirective{Kind: "add", Value: "adapter tuning"})
	assert.Equal(t, []string{"adapter tuning"}, plan.Steps[0].Queries)

	ApplyEdit(&plan, EditDirective{Kind: "add", Value: "adapter tuning"})
	assert.Equal(t, []string{"adapter tuning"}, plan.Steps[0].Queries)
}

func TestApplyEditRemoveIsIdempotent(t *testing.T) {
	plan := domain.ResearchPlan{Steps: []domain.ResearchStep{
		{Action: domain.ActionResearch, Queries: []string{"vision transformers", "adapter tuning"}},
	}}
	ApplyEdit(&plan, EditDirective{Kind: "remove", Value: "adapter"})
	assert.Equal(t, []string{"vision transformers"}, plan.Steps[0].Queries)

	ApplyEdit(&plan, EditDirective{Kind: "remove", Value: "adapter"})
	assert.Equal(t, []string{"vision transformers"}, plan.Steps[0].Queries)
}
