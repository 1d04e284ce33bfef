package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/cache"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/executor"
	"scholarpilot.dev/core/internal/hitl"
	"scholarpilot.dev/core/internal/kv"
	"scholarpilot.dev/core/internal/tools"
)

// fakeLoader returns canned page-mapped text instead of hitting the network,
// and counts how many times each URL was actually fetched so tests can
// assert the pdf_pages_cache short-circuits a repeat download.
type fakeLoader struct {
	calls map[string]int
}

func newFakeLoader() *fakeLoader { return &fakeLoader{calls: map[string]int{}} }

func (f *fakeLoader) Load(_ context.Context, pdfURL string) (string, []domain.PageInfo, string, error) {
	f.calls[pdfURL]++
	text := fmt.Sprintf("full text of %s", pdfURL)
	pages := []domain.PageInfo{{CharStart: 0, CharEnd: len(text), Page: 1}}
	return text, pages, "hash-" + pdfURL, nil
}

func score(v float64) *float64 { return &v }

func TestRunPDFLoadingSkipsLowScoreAndPaywalledPapers(t *testing.T) {
	loader := newFakeLoader()
	p := &Pipeline{
		Cache:     cache.New(kv.NewMemoryStore(), nil),
		PDFLoader: loader,
	}
	state := &runState{
		papers: []domain.Paper{
			{ID: "p1", PDFURL: "https://arxiv.org/pdf/1.pdf", RelevanceScore: score(9.0)},
			{ID: "p2", PDFURL: "https://arxiv.org/pdf/2.pdf", RelevanceScore: score(3.0)},
			{ID: "p3", PDFURL: "https://dl.acm.org/doi/pdf/3", RelevanceScore: score(9.5)},
			{ID: "p4", PDFURL: "", RelevanceScore: score(9.5)},
		},
	}

	require.NoError(t, p.runPDFLoading(context.Background(), state))

	assert.Equal(t, 1, loader.calls["https://arxiv.org/pdf/1.pdf"])
	assert.Zero(t, loader.calls["https://arxiv.org/pdf/2.pdf"])
	assert.Zero(t, loader.calls["https://dl.acm.org/doi/pdf/3"])

	assert.NotEmpty(t, state.papers[0].FullText)
	assert.Equal(t, domain.PaperStatusFulltext, state.papers[0].Status)
	assert.NotEmpty(t, state.papers[0].PDFHash)
	assert.NotEmpty(t, state.papers[0].PageMap)

	assert.Empty(t, state.papers[1].FullText)
	assert.Empty(t, state.papers[2].FullText)
	assert.Empty(t, state.papers[3].FullText)
}

func TestRunPDFLoadingUsesCacheOnSecondRun(t *testing.T) {
	loader := newFakeLoader()
	store := kv.NewMemoryStore()
	p := &Pipeline{Cache: cache.New(store, nil), PDFLoader: loader}

	paper := domain.Paper{ID: "p1", PDFURL: "https://arxiv.org/pdf/1.pdf", RelevanceScore: score(9.0)}
	state1 := &runState{papers: []domain.Paper{paper}}
	require.NoError(t, p.runPDFLoading(context.Background(), state1))
	assert.Equal(t, 1, loader.calls[paper.PDFURL])

	state2 := &runState{papers: []domain.Paper{paper}}
	require.NoError(t, p.runPDFLoading(context.Background(), state2))
	assert.Equal(t, 1, loader.calls[paper.PDFURL], "second run should hit pdf_pages_cache, not refetch")
	assert.Equal(t, state1.papers[0].FullText, state2.papers[0].FullText)
}

func TestRunPDFLoadingNoopWithoutConfiguredInfra(t *testing.T) {
	p := &Pipeline{}
	state := &runState{papers: []domain.Paper{{ID: "p1", PDFURL: "https://arxiv.org/pdf/1.pdf", RelevanceScore: score(9.0)}}}
	require.NoError(t, p.runPDFLoading(context.Background(), state))
	assert.Empty(t, state.papers[0].FullText)
}

// rejectAll is an approval callback that rejects every gate, for exercising
// the "gate rejected" branch of runExecution deterministically.
func rejectAll(domain.Gate) (domain.GateDecision, error) {
	return domain.DecisionRejected, nil
}

func registerCollectURLs(t *testing.T, registry *tools.Registry, papersByURL map[string][]tools.PaperResult) {
	t.Helper()
	registry.Register(tools.ToolDefinition{
		Name: "collect_urls",
		Call: func(_ context.Context, args map[string]any) (any, error) {
			urls, _ := args["urls"].([]string)
			var out []tools.PaperResult
			for _, u := range urls {
				out = append(out, papersByURL[u]...)
			}
			return out, nil
		},
	})
}

func TestRunExecutionRestrictsCollectStepsWhenExternalCrawlGateRejected(t *testing.T) {
	registry := tools.NewRegistry()
	registerCollectURLs(t, registry, map[string][]tools.PaperResult{
		"https://arxiv.org/abs/1":       {{Title: "whitelisted paper"}},
		"https://evil.example.com/page": {{Title: "external paper"}},
	})
	exec := executor.New(registry, cache.New(kv.NewMemoryStore(), nil))

	plan := &domain.ResearchPlan{Steps: []domain.ResearchStep{
		{
			ID:         1,
			ToolName:   "collect_urls",
			SourceURLs: []string{"https://arxiv.org/abs/1", "https://evil.example.com/page"},
			ToolArgs:   map[string]any{"urls": []string{"https://arxiv.org/abs/1", "https://evil.example.com/page"}},
		},
	}}

	p := &Pipeline{
		Executor: exec,
		Gates:    hitl.NewManager(kv.NewMemoryStore(), rejectAll),
	}
	state := &runState{plan: plan}

	require.NoError(t, p.runExecution(context.Background(), Session{SessionID: "s1"}, state))

	require.Len(t, state.papers, 1)
	assert.Equal(t, "whitelisted paper", state.papers[0].Title)
}

func TestRunPDFLoadingSkipsPhaseWhenGateRejected(t *testing.T) {
	loader := newFakeLoader()
	p := &Pipeline{
		Cache:     cache.New(kv.NewMemoryStore(), nil),
		PDFLoader: loader,
		Gates:     hitl.NewManager(kv.NewMemoryStore(), rejectAll),
	}

	var papers []domain.Paper
	for i := 0; i < 20; i++ {
		papers = append(papers, domain.Paper{
			ID:             fmt.Sprintf("p%d", i),
			PDFURL:         fmt.Sprintf("https://arxiv.org/pdf/%d.pdf", i),
			RelevanceScore: score(9.0),
		})
	}
	state := &runState{sessionID: "s1", papers: papers}

	require.NoError(t, p.runPDFLoading(context.Background(), state))

	assert.Empty(t, loader.calls, "a rejected pdf_download gate must prevent every fetch")
	assert.Empty(t, state.papers[0].FullText)
}

func TestRunEvidenceExtractionSkipsPhaseWhenTokenBudgetGateRejected(t *testing.T) {
	bigText := make([]byte, 500_000)
	for i := range bigText {
		bigText[i] = 'x'
	}
	state := &runState{
		sessionID: "s1",
		papers:    []domain.Paper{{ID: "p1", Title: "big paper", Abstract: string(bigText)}},
	}

	p := &Pipeline{Gates: hitl.NewManager(kv.NewMemoryStore(), rejectAll)}

	require.NoError(t, p.runEvidenceExtraction(context.Background(), Session{SessionID: "s1"}, state))
	assert.Empty(t, state.studyCards)
}

func TestApplyScreeningPromotesIncludedPapers(t *testing.T) {
	papers := []domain.Paper{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	records := []domain.ScreeningRecord{
		domain.NewScreeningRecord("p1", domain.TierCore, "on_topic", "directly relevant", 9.0),
		domain.NewScreeningRecord("p2", domain.TierExclude, "off_topic", "unrelated", 1.0),
		domain.NewScreeningRecord("p3", domain.TierBackground, "related", "tangential", 5.5),
	}

	applyScreening(papers, records)

	require.NotNil(t, papers[0].RelevanceScore)
	assert.Equal(t, 9.0, *papers[0].RelevanceScore)
	assert.Equal(t, domain.PaperStatusScreened, papers[0].Status)
	assert.True(t, papers[0].ValidStatus())

	assert.Nil(t, papers[1].RelevanceScore, "excluded papers stay unscored")
	assert.Empty(t, string(papers[1].Status))

	require.NotNil(t, papers[2].RelevanceScore)
	assert.Equal(t, 5.5, *papers[2].RelevanceScore)
}

func TestIncludedPapersFiltersExcludedTier(t *testing.T) {
	papers := []domain.Paper{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	screening := []domain.ScreeningRecord{
		{PaperID: "p1", Tier: domain.TierCore},
		{PaperID: "p2", Tier: domain.TierExclude},
		{PaperID: "p3", Tier: domain.TierBackground},
	}
	kept := includedPapers(papers, screening)
	require.Len(t, kept, 2)
	assert.Equal(t, "p1", kept[0].ID)
	assert.Equal(t, "p3", kept[1].ID)
}
