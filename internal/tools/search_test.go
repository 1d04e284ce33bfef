package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptyAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"></feed>`

func newEmptySourceSearcher(t *testing.T) (*Searcher, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64

	arxivSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Write([]byte(emptyAtomFeed)) //nolint:errcheck
	}))
	t.Cleanup(arxivSrv.Close)

	openAlexSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"results": []}`)) //nolint:errcheck
	}))
	t.Cleanup(openAlexSrv.Close)

	arxiv := &ArxivClient{httpClient: arxivSrv.Client(), breaker: newBreaker("arxiv-test"), baseURL: arxivSrv.URL}
	openAlex := &OpenAlexClient{httpClient: openAlexSrv.Client(), breaker: newBreaker("openalex-test"), baseURL: openAlexSrv.URL}
	return NewSearcher(arxiv, openAlex, NewQueryRefiner(nil)), &requests
}

func TestSearchZeroResultsTerminatesWithEmptyList(t *testing.T) {
	searcher, requests := newEmptySourceSearcher(t)

	results, err := searcher.Search(context.Background(), "nonexistent obscure topic", 20)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Two sources per round, the original round plus at most
	// maxRefinementAttempts refinement rounds of at most
	// maxRefinerSuggestions queries each — bounded, never an infinite loop.
	maxRequests := int64(2 * (1 + maxRefinementAttempts*maxRefinerSuggestions))
	assert.LessOrEqual(t, requests.Load(), maxRequests)
}

func TestPaperDedupKeyPrecedence(t *testing.T) {
	assert.Equal(t, "arxiv:2301.00001", paperDedupKey(PaperResult{ArxivID: "2301.00001", DOI: "10.1/x", Title: "T", Authors: []string{"A"}}))
	assert.Equal(t, "doi:10.1/x", paperDedupKey(PaperResult{DOI: "10.1/X ", Title: "T", Authors: []string{"A"}}))
	assert.Equal(t, "fp:t|a", paperDedupKey(PaperResult{Title: "T", Authors: []string{"A"}}))
	assert.Empty(t, paperDedupKey(PaperResult{Title: "orphan title"}))
}

func TestQuickDedupKeepsFirstOccurrence(t *testing.T) {
	papers := []PaperResult{
		{ArxivID: "2301.00001", Title: "From ArXiv", SourceType: "arxiv"},
		{ArxivID: "2301.00001", Title: "From OpenAlex", SourceType: "openalex"},
		{DOI: "10.1234/test", Title: "Second"},
	}
	out := quickDedup(papers)
	require.Len(t, out, 2)
	assert.Equal(t, "From ArXiv", out[0].Title)
}

func TestQuickDedupEnrichesKeptRecordFromDuplicate(t *testing.T) {
	papers := []PaperResult{
		{ArxivID: "2301.00001", Title: "Paper", PDFURL: "https://dl.acm.org/doi/pdf/10.1145/1"},
		{ArxivID: "2301.00001", Title: "Paper", PDFURL: "https://arxiv.org/pdf/2301.00001", Abstract: "the abstract", DOI: "10.1234/x"},
	}
	out := quickDedup(papers)
	require.Len(t, out, 1)
	assert.Equal(t, "https://arxiv.org/pdf/2301.00001", out[0].PDFURL, "open-access PDF URL wins")
	assert.Equal(t, "the abstract", out[0].Abstract)
	assert.Equal(t, "10.1234/x", out[0].DOI)
}

func TestIsQualityOK(t *testing.T) {
	relevant := []PaperResult{
		{Title: "Vision Transformer Architecture"},
		{Title: "Transformers for Images"},
		{Title: "A Transformer Survey"},
	}
	assert.True(t, isQualityOK("vision transformers", relevant))

	assert.False(t, isQualityOK("vision transformers", relevant[:2]), "fewer than 3 results is poor")

	offTopic := []PaperResult{
		{Title: "Deep Sea Biology"},
		{Title: "Protein Folding"},
		{Title: "Climate Models"},
		{Title: "Quantum Chemistry"},
		{Title: "Graph Databases"},
	}
	assert.False(t, isQualityOK("vision transformers", offTopic), "under 20% keyword hits is poor")
}

func TestCondenseQueryKeepsSignificantTerms(t *testing.T) {
	got := condenseQuery("what is the state of vision transformers for medical imaging analysis", 4)
	assert.Equal(t, "state vision transformers medical", got)

	assert.Equal(t, "a an of", condenseQuery("a an of", 4), "all-stopword queries pass through untouched")
}

func TestSignificantKeywords(t *testing.T) {
	got := SignificantKeywords("What about BERT and GPT models?")
	assert.Equal(t, []string{"bert", "gpt", "models"}, got)
}

func TestHeuristicRefine(t *testing.T) {
	assert.Equal(t, "vision transformers survey", HeuristicRefine("vision transformers v2"))
	assert.Equal(t, "bert survey", HeuristicRefine("bert"))
	assert.Equal(t, "a survey of transformers", HeuristicRefine("a survey of transformers"))
}

func TestRefinerSuggestSkipsTriedQueries(t *testing.T) {
	r := NewQueryRefiner(nil)

	got := r.Suggest(context.Background(), "vision transformers", []string{"vision transformers"})
	assert.Equal(t, []string{"vision transformers survey"}, got)

	got = r.Suggest(context.Background(), "vision transformers", []string{"vision transformers", "vision transformers survey"})
	assert.Empty(t, got, "a heuristic suggestion that was already tried must not be re-proposed")
}

func TestIsPaywalled(t *testing.T) {
	assert.True(t, IsPaywalled("https://dl.acm.org/doi/pdf/10.1145/1234"))
	assert.True(t, IsPaywalled("https://ieeexplore.ieee.org/document/99"))
	assert.False(t, IsPaywalled("https://arxiv.org/pdf/2301.00001"))
	assert.False(t, IsPaywalled("not a url"))
}

func TestPreferredPDFURLPrefersOpenAccess(t *testing.T) {
	got := PreferredPDFURL([]string{
		"https://dl.acm.org/doi/pdf/10.1145/1234",
		"https://arxiv.org/pdf/2301.00001",
	})
	assert.Equal(t, "https://arxiv.org/pdf/2301.00001", got)

	assert.Equal(t, "https://example.com/a.pdf", PreferredPDFURL([]string{"https://example.com/a.pdf"}))
	assert.Empty(t, PreferredPDFURL(nil))
}

func TestIsWhitelistedCrawlDomain(t *testing.T) {
	assert.True(t, IsWhitelistedCrawlDomain("https://arxiv.org/abs/2301.00001"))
	assert.True(t, IsWhitelistedCrawlDomain("https://huggingface.co/papers/2301.00001"))
	assert.False(t, IsWhitelistedCrawlDomain("https://example.com/paper"))
}

func TestExtractArxivID(t *testing.T) {
	assert.Equal(t, "2301.00001", extractArxivID("http://arxiv.org/abs/2301.00001"))
	assert.Equal(t, "2301.00001v2", extractArxivID("http://arxiv.org/abs/2301.00001v2"))
}

func TestReconstructAbstract(t *testing.T) {
	idx := map[string][]int{
		"attention": {0},
		"is":        {1},
		"all":       {2},
		"you":       {3},
		"need":      {4},
	}
	assert.Equal(t, "attention is all you need", reconstructAbstract(idx))
	assert.Empty(t, reconstructAbstract(nil))
}
