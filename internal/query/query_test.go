package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scholarpilot.dev/core/internal/domain"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", DetectLanguage("what is the best BERT paper"))
	assert.Equal(t, "vi", DetectLanguage("cho tôi một vài nghiên cứu về vision transformers"))
	assert.Equal(t, "en", DetectLanguage("the of a")) // no indicator word of any other language, stays English
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("see https://arxiv.org/abs/2301.00001 and also http://example.com/x")
	assert.Equal(t, []string{"https://arxiv.org/abs/2301.00001", "http://example.com/x"}, urls)
}

func TestMergeURLs(t *testing.T) {
	existing := []string{"https://a.com"}
	fresh := []string{"https://a.com", "https://b.com"}
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, MergeURLs(existing, fresh))
}

func TestParserQuickFull(t *testing.T) {
	p := NewParser()
	info := p.Parse("give me a quick summary of BERT papers")
	assert.Equal(t, domain.QueryTypeQuick, info.Type)
	assert.True(t, info.SkipSynthesis)

	info = p.Parse("BERT paper")
	assert.Equal(t, domain.QueryTypeFull, info.Type)

	info = p.Parse("a comprehensive survey of vision transformers")
	assert.Equal(t, domain.QueryTypeFull, info.Type)
}

func TestClassifyComplexity(t *testing.T) {
	assert.Equal(t, ComplexityCompound, ClassifyComplexity("find BERT papers and then summarize GPT papers"))
	assert.Equal(t, ComplexityAmbiguous, ClassifyComplexity("could it be possible to use transformers for audio"))
	assert.Equal(t, ComplexitySimple, ClassifyComplexity("BERT paper"))
}

func TestNeedsClarification(t *testing.T) {
	assert.False(t, NeedsClarification("BERT paper"))
	assert.True(t, NeedsClarification("a detailed look at how transformers changed NLP research forever"))
	assert.True(t, NeedsClarification("find BERT papers and then summarize GPT"))
}

func TestParseLineFormat(t *testing.T) {
	text := "UNDERSTANDING: user wants transformer papers\nSUBQUERIES: vision transformers, ViT\nQUESTIONS: Do you want a specific domain? | Any date range?"
	understanding, subqueries, questions := ParseLineFormat(text)
	assert.Equal(t, "user wants transformer papers", understanding)
	assert.Equal(t, []string{"vision transformers", "ViT"}, subqueries)
	assert.Len(t, questions, 2)
}
