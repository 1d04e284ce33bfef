package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scholarpilot.dev/core/internal/domain"
)

func TestAddDeduplicatesAcrossSources(t *testing.T) {
	d := New()
	papers := []domain.Paper{
		{Title: "Vision Transformer Architecture", Authors: []string{"Alice"}, ArxivID: "2301.00001"},
		{Title: "Vision Transformer Architecture", Authors: []string{"Alice"}, ArxivID: "2301.00001"},
		{Title: "BERT: Pre-training of Deep Bidirectional Transformers", DOI: "10.1234/test"},
		{Title: "BERT: Pre-training of Deep Bidirectional Transformers", DOI: "10.1234/test"},
		{Title: "RL Robotics", DOI: "10.5678/rl"},
	}

	for _, p := range papers {
		d.Add(p)
	}

	unique, duplicates := d.Counts()
	assert.Equal(t, 3, unique)
	assert.Equal(t, 2, duplicates)
}

func TestAddIdenticalConsecutiveInputs(t *testing.T) {
	d := New()
	paper := domain.Paper{Title: "Attention Is All You Need", Authors: []string{"Vaswani"}, ArxivID: "1706.03762"}
	const n = 5
	for i := 0; i < n; i++ {
		d.Add(paper)
	}

	unique, duplicates := d.Counts()
	assert.Equal(t, 1, unique)
	assert.Equal(t, n-1, duplicates)
}

func TestAddNormalizesDOIBeforeComparing(t *testing.T) {
	d := New()
	assert.True(t, d.Add(domain.Paper{Title: "Paper One", DOI: "https://doi.org/10.1234/Test"}))
	assert.False(t, d.Add(domain.Paper{Title: "A Different Rendering Entirely", DOI: "doi:10.1234/test"}))
}

func TestAddFingerprintMatchesTitlePlusFirstAuthor(t *testing.T) {
	d := New()
	assert.True(t, d.Add(domain.Paper{Title: "Sparse Attention Networks", Authors: []string{"Jane Doe", "Bob"}}))
	assert.False(t, d.Add(domain.Paper{Title: "sparse attention networks", Authors: []string{"JANE DOE"}}))
}

func TestAddFuzzyTitleMatch(t *testing.T) {
	d := New()
	assert.True(t, d.Add(domain.Paper{Title: "Efficient Transformers: A Survey"}))
	// One-character drift stays above the 0.85 LCS-ratio threshold.
	assert.False(t, d.Add(domain.Paper{Title: "Efficient Transformers: A Surveys"}))
	// A genuinely different title is kept.
	assert.True(t, d.Add(domain.Paper{Title: "Reinforcement Learning for Robotics"}))
}

func TestSimilarityOf(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityOf("same title", "Same Title"))
	assert.Less(t, SimilarityOf("completely different", "unrelated words here"), FuzzyTitleThreshold)
	assert.Zero(t, SimilarityOf("", "anything"))
}

func TestNormalizeDOI(t *testing.T) {
	assert.Equal(t, "10.1234/abc", normalizeDOI("https://doi.org/10.1234/ABC"))
	assert.Equal(t, "10.1234/abc", normalizeDOI("doi:10.1234/abc"))
	assert.Equal(t, "10.1234/abc", normalizeDOI(" 10.1234/abc "))
}
