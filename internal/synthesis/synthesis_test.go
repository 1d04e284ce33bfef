package synthesis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

func TestTargetK(t *testing.T) {
	assert.Equal(t, 0, TargetK(0))
	assert.Equal(t, 1, TargetK(1))
	assert.Equal(t, 2, TargetK(2))
	assert.Equal(t, 5, TargetK(20))
	assert.Equal(t, 4, TargetK(6))
}

func TestKMeansPartitionSeparatesDistinctGroups(t *testing.T) {
	vectors := [][]float64{
		{0.0, 0.1},
		{0.1, 0.0},
		{0.05, 0.05},
		{10.0, 10.1},
		{10.1, 10.0},
	}

	groups := kmeansPartition(vectors, 2)
	require.Len(t, groups, 2)

	sizes := []int{len(groups[0]), len(groups[1])}
	assert.ElementsMatch(t, []int{3, 2}, sizes)

	// Deterministic: the same vectors always produce the same partition.
	again := kmeansPartition(vectors, 2)
	assert.Equal(t, groups, again)
}

func TestKMeansPartitionClampsKToPointCount(t *testing.T) {
	vectors := [][]float64{{1, 0}, {0, 1}}
	groups := kmeansPartition(vectors, 5)
	assert.Len(t, groups, 2)
	assert.Nil(t, kmeansPartition(nil, 3))
}

// embedLabelClient fakes both capabilities the embedding clustering path
// needs: Embed returns fixed vectors per text, Chat returns canned cluster
// labels.
type embedLabelClient struct {
	vectorsByTitle map[string][]float64
	labels         labelResponse
	embedCalls     int
}

func (c *embedLabelClient) Embed(_ context.Context, texts []string) ([][]float64, error) {
	c.embedCalls++
	out := make([][]float64, len(texts))
	for i, text := range texts {
		title, _, _ := strings.Cut(text, "\n")
		out[i] = c.vectorsByTitle[title]
	}
	return out, nil
}

func (c *embedLabelClient) Chat(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
	*result.(*labelResponse) = c.labels
	return &llm.Response{}, nil
}
func (c *embedLabelClient) Model() string { return "fake" }

func TestClustererUsesEmbeddingPartitionAndTitleLabels(t *testing.T) {
	papers := []domain.Paper{
		{ID: "p1", Title: "Sparse Attention"},
		{ID: "p2", Title: "Linear Attention"},
		{ID: "p3", Title: "Protein Folding"},
	}
	client := &embedLabelClient{
		vectorsByTitle: map[string][]float64{
			"Sparse Attention": {0.0, 0.1},
			"Linear Attention": {0.1, 0.0},
			"Protein Folding":  {10.0, 10.0},
		},
		labels: labelResponse{Clusters: []clusterLabel{
			{ClusterIndex: 0, Name: "Efficient Attention", Description: "Attention variants"},
			{ClusterIndex: 1, Name: "Biology", Description: "Protein structure"},
		}},
	}

	clusters, err := NewClusterer(client).clusterViaEmbeddings(context.Background(), "plan-1", papers, 2, client)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, 1, client.embedCalls)

	assert.Equal(t, "Efficient Attention", clusters[0].Name)
	assert.ElementsMatch(t, []string{"p1", "p2"}, clusters[0].PaperIDs)
	assert.Equal(t, "Biology", clusters[1].Name)
	assert.Equal(t, []string{"p3"}, clusters[1].PaperIDs)

	seen := map[string]int{}
	for _, c := range clusters {
		for _, id := range c.PaperIDs {
			seen[id]++
		}
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "paper %s must belong to exactly one cluster", id)
	}
}

func TestSpanIDIsDeterministic(t *testing.T) {
	a := SpanID("paper-1", "a verbatim snippet")
	b := SpanID("paper-1", "a verbatim snippet")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "paper-1#")
	assert.NotEqual(t, a, SpanID("paper-2", "a verbatim snippet"))
}

func TestCitationAuditorMarksMajorAndMinorFailures(t *testing.T) {
	// Salience is left at the zero value (< 0.3) on every claim here, so
	// the auditor never reaches for an LLM client — this exercises the
	// structural-only path with client=nil.
	knownSpans := map[string]domain.EvidenceSpan{
		"p1#aaaaaaaa": {SpanID: "p1#aaaaaaaa"},
	}
	claims := []domain.Claim{
		{ClaimID: "c1", EvidenceSpanIDs: []string{"p1#aaaaaaaa"}},
		{ClaimID: "c2", EvidenceSpanIDs: []string{"p1#aaaaaaaa", "p1#bogus000"}},
		{ClaimID: "c3", EvidenceSpanIDs: []string{"p1#bogus000"}},
	}

	auditor := NewCitationAuditor(nil)
	result, results := auditor.Audit(context.Background(), claims, knownSpans)

	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 1, result.FailedMajor)
	assert.Equal(t, 1, result.FailedMinor)
	assert.Equal(t, 1, result.Repaired)

	passing := PassingClaims(results)
	assert.Len(t, passing, 2)
	for _, c := range passing {
		assert.NotEmpty(t, c.EvidenceSpanIDs)
	}
}

func TestCitationAuditorZeroClaimsMakesNoLLMCalls(t *testing.T) {
	auditor := NewCitationAuditor(&panicClient{t: t})
	result, results := auditor.Audit(context.Background(), nil, nil)
	assert.Equal(t, 1.0, result.PassRate())
	assert.Empty(t, results)
}

func TestCitationAuditorRepairsMajorSemanticFailure(t *testing.T) {
	knownSpans := map[string]domain.EvidenceSpan{
		"p1#aaaaaaaa": {SpanID: "p1#aaaaaaaa", Snippet: "accuracy improved by 2%"},
	}
	claims := []domain.Claim{
		{ClaimID: "c1", Text: "The method solves AGI.", EvidenceSpanIDs: []string{"p1#aaaaaaaa"}, Salience: 0.9},
	}

	auditor := NewCitationAuditor(&fakeAuditClient{
		verdicts: []supportVerdict{
			{Supported: false, Severity: "major", Rewrite: ""},
			{Supported: true},
		},
	})
	result, results := auditor.Audit(context.Background(), claims, knownSpans)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.FailedMajor)
	assert.Equal(t, 1, result.Repaired)
	assert.True(t, results[0].Claim.UncertaintyFlag)
	assert.Contains(t, results[0].Claim.Text, "Evidence suggests that")
}

func TestRequireMinimumPassRate(t *testing.T) {
	good := domain.CitationAuditResult{Passed: 9, FailedMajor: 1}
	assert.NoError(t, RequireMinimumPassRate(good, 0.8))

	bad := domain.CitationAuditResult{Passed: 1, FailedMajor: 9}
	assert.Error(t, RequireMinimumPassRate(bad, 0.8))
}

func TestResolveLocatorFindsContainingPage(t *testing.T) {
	fullText := "intro text. the method reduces latency by half. conclusion."
	pageMap := []domain.PageInfo{
		{CharStart: 0, CharEnd: 11, Page: 1},
		{CharStart: 11, CharEnd: 49, Page: 2},
		{CharStart: 49, CharEnd: len(fullText), Page: 3},
	}

	loc := resolveLocator(fullText, pageMap, "the method reduces latency by half.")
	require.NotNil(t, loc.Page)
	assert.Equal(t, 2, *loc.Page)
	require.NotNil(t, loc.CharStart)
	assert.Equal(t, 12, *loc.CharStart)
}

func TestResolveLocatorLeavesZeroValueWhenSnippetNotFound(t *testing.T) {
	loc := resolveLocator("intro text.", nil, "a paraphrase not present verbatim")
	assert.Nil(t, loc.Page)
	assert.Nil(t, loc.CharStart)
}

func TestMineFromTaxonomyCoversEveryEmptyCell(t *testing.T) {
	matrix := domain.TaxonomyMatrix{
		Themes:   []string{"retrieval"},
		Datasets: []string{"squad"},
		Metrics:  []string{"f1", "em"},
		Cells: map[domain.TaxonomyCellKey][]string{
			{Theme: "retrieval", Dataset: "squad", Metric: "f1"}: {"p1"},
		},
	}
	directions := MineFromTaxonomy(matrix)
	assert.Len(t, directions, 1)
	assert.Equal(t, domain.GapSourceTaxonomyHole, directions[0].Source)
}

func TestMineFromContradictionsFlagsDivergentResults(t *testing.T) {
	matrix := domain.TaxonomyMatrix{
		Themes:   []string{"retrieval"},
		Datasets: []string{"squad"},
		Metrics:  []string{"f1"},
		Cells: map[domain.TaxonomyCellKey][]string{
			{Theme: "retrieval", Dataset: "squad", Metric: "f1"}: {"p1", "p2"},
		},
	}
	cards := map[string]domain.StudyCard{
		"p1": {PaperID: "p1", Results: "achieves f1 of 91.2", EvidenceSpanIDs: []string{"p1#aaaaaaaa"}},
		"p2": {PaperID: "p2", Results: "reports f1 of 62.5", EvidenceSpanIDs: []string{"p2#bbbbbbbb"}},
	}

	directions := MineFromContradictions(matrix, cards)
	require.Len(t, directions, 1)
	assert.Equal(t, domain.GapSourceContradictoryResults, directions[0].Source)
	assert.Contains(t, directions[0].LimitationSpanIDs, "p1#aaaaaaaa")
	assert.Contains(t, directions[0].LimitationSpanIDs, "p2#bbbbbbbb")
}

func TestMineFromContradictionsIgnoresCloseResults(t *testing.T) {
	matrix := domain.TaxonomyMatrix{
		Cells: map[domain.TaxonomyCellKey][]string{
			{Theme: "retrieval", Dataset: "squad", Metric: "f1"}: {"p1", "p2"},
		},
	}
	cards := map[string]domain.StudyCard{
		"p1": {PaperID: "p1", Results: "f1 of 90.0"},
		"p2": {PaperID: "p2", Results: "f1 of 91.0"},
	}
	assert.Empty(t, MineFromContradictions(matrix, cards))
}

func TestGroundedWriterProducesFixedOutline(t *testing.T) {
	published := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)
	in := WriteInput{
		Topic:  "efficient transformers",
		PlanID: "plan-1",
		Papers: []domain.Paper{
			{ID: "p1", Title: "Sparse Attention", Authors: []string{"Jane Doe"}, Published: &published, AbsURL: "https://arxiv.org/abs/1"},
		},
		Clusters: []domain.Cluster{
			{ID: "c1", Name: "Sparsity", Description: "Sparse attention mechanisms", PaperIDs: []string{"p1"}},
		},
		Claims: []domain.Claim{
			{ClaimID: "claim-1", Text: "Sparse attention reduces compute.", ThemeID: "c1", EvidenceSpanIDs: []string{"p1#aaaaaaaa"}, Salience: 0.9},
		},
		Spans: map[string]domain.EvidenceSpan{
			"p1#aaaaaaaa": {SpanID: "p1#aaaaaaaa", PaperID: "p1", Field: domain.FieldResult, Snippet: "reduces FLOPs by 40%"},
		},
		Directions: []domain.FutureDirection{
			{Type: domain.DirectionOpenProblem, Title: "Scaling laws unclear", Description: "No paper studies scaling beyond 10B params."},
		},
		CitationRes: domain.CitationAuditResult{Passed: 1},
	}

	report := NewGroundedWriter().Write(in)

	assert.Contains(t, report.Markdown, "## Scope & Search Strategy")
	assert.Contains(t, report.Markdown, "## Theme Map")
	assert.Contains(t, report.Markdown, "## Theme Synthesis")
	assert.Contains(t, report.Markdown, "## Aggregated Limitations")
	assert.Contains(t, report.Markdown, "## Future Directions")
	assert.Contains(t, report.Markdown, "## References")
	assert.Contains(t, report.Markdown, "reduces FLOPs by 40%")
	assert.Contains(t, report.Markdown, "Jane Doe (2023)")
}

func TestEvidenceExtractorEnforcesSpanBackedFields(t *testing.T) {
	fullText := "We study efficient attention. Our method prunes heads dynamically."
	paper := domain.Paper{
		ID:       "p1",
		Title:    "Efficient Attention",
		FullText: fullText,
		PageMap:  []domain.PageInfo{{CharStart: 0, CharEnd: len(fullText), Page: 1}},
		PDFHash:  "h",
		AbsURL:   "https://arxiv.org/abs/1",
	}

	extractor := NewEvidenceExtractor(&fakeExtractClient{resp: extractResponse{
		Problem: "efficient attention",
		Method:  "dynamic head pruning", // populated, but no method-tagged span below
		Spans: []extractedSpan{
			{Field: "problem", Snippet: "We study efficient attention."},
			{Field: "banana", Snippet: "not a recognized field tag"},
		},
	}})

	card, spans, err := extractor.Extract(context.Background(), paper, fullText)
	require.NoError(t, err)

	require.Len(t, spans, 1, "spans with unknown field tags are dropped")
	assert.Equal(t, SpanID("p1", "We study efficient attention."), spans[0].SpanID)
	require.NotNil(t, spans[0].Locator.Page)
	assert.Equal(t, 1, *spans[0].Locator.Page)

	assert.Equal(t, "efficient attention", card.Problem)
	assert.Empty(t, card.Method, "a field with no backing span is blanked")
	assert.Equal(t, []string{spans[0].SpanID}, card.EvidenceSpanIDs)
}

type fakeExtractClient struct {
	resp extractResponse
}

func (c *fakeExtractClient) Chat(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
	*result.(*extractResponse) = c.resp
	return &llm.Response{}, nil
}
func (c *fakeExtractClient) Model() string { return "fake" }

// panicClient fails the test if Chat is ever called, for asserting a
// codepath makes zero LLM calls.
type panicClient struct{ t *testing.T }

func (c *panicClient) Chat(context.Context, llm.Request, any) (*llm.Response, error) {
	c.t.Fatal("unexpected LLM call")
	return nil, nil
}
func (c *panicClient) Model() string { return "panic" }

// fakeAuditClient returns canned supportVerdict responses in order, one
// per Chat call, for exercising the citation auditor's repair loop
// without a real LLM.
type fakeAuditClient struct {
	verdicts []supportVerdict
	calls    int
}

func (c *fakeAuditClient) Chat(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
	out := result.(*supportVerdict)
	*out = c.verdicts[c.calls]
	c.calls++
	return &llm.Response{}, nil
}
func (c *fakeAuditClient) Model() string { return "fake" }
