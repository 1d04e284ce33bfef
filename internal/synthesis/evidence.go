package synthesis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// EvidenceExtractor pulls verbatim, field-tagged spans out of a paper's
// full text (or abstract, when full text is unavailable) and builds the
// per-paper StudyCard.
type EvidenceExtractor struct {
	client llm.Client
}

func NewEvidenceExtractor(client llm.Client) *EvidenceExtractor {
	return &EvidenceExtractor{client: client}
}

type extractedSpan struct {
	Field   string `json:"field"`
	Snippet string `json:"snippet"`
}

type extractResponse struct {
	Problem     string          `json:"problem"`
	Method      string          `json:"method"`
	Datasets    []string        `json:"datasets"`
	Metrics     []string        `json:"metrics"`
	Results     string          `json:"results"`
	Limitations string          `json:"limitations"`
	Spans       []extractedSpan `json:"spans"`
}

const extractorSystemPrompt = `You extract structured evidence from a single research paper's text.
Populate problem/method/datasets/metrics/results/limitations from the paper, and back each
populated field with ≥1 verbatim snippet (<=300 characters) quoted directly from the source text.`

// Extract produces a StudyCard and the backing EvidenceSpans for one
// paper. text is the paper's full text when available, otherwise its
// abstract.
func (e *EvidenceExtractor) Extract(ctx context.Context, paper domain.Paper, text string) (domain.StudyCard, []domain.EvidenceSpan, error) {
	if e.client == nil {
		return domain.StudyCard{}, nil, fmt.Errorf("synthesis: no LLM client configured")
	}

	prompt := fmt.Sprintf("Paper ID: %s\nTitle: %s\n\nText:\n%s", paper.ID, paper.Title, truncate(text, 8000))

	var resp extractResponse
	_, err := e.client.Chat(ctx, llm.Request{
		SystemPrompt: extractorSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "extract_response",
		Schema:       llm.GenerateSchema[extractResponse](),
		Temperature:  llm.Temp(0.1),
	}, &resp)
	if err != nil {
		return domain.StudyCard{}, nil, fmt.Errorf("synthesis: extract evidence: %w", err)
	}

	usingFullText := paper.FullText != ""

	var spans []domain.EvidenceSpan
	for _, s := range resp.Spans {
		field := domain.EvidenceFieldTag(strings.ToLower(strings.TrimSpace(s.Field)))
		if !validFieldTags[field] {
			continue
		}
		snippet := domain.TruncateSnippet(s.Snippet)
		if snippet == "" {
			continue
		}
		span := domain.EvidenceSpan{
			SpanID:     SpanID(paper.ID, snippet),
			PaperID:    paper.ID,
			Field:      field,
			Snippet:    snippet,
			Confidence: 0.8,
			SourceURL:  paper.AbsURL,
		}
		if usingFullText {
			span.Locator = resolveLocator(paper.FullText, paper.PageMap, snippet)
		}
		spans = append(spans, span)
	}

	card := domain.StudyCard{
		PaperID:     paper.ID,
		Problem:     resp.Problem,
		Method:      resp.Method,
		Datasets:    resp.Datasets,
		Metrics:     resp.Metrics,
		Results:     resp.Results,
		Limitations: resp.Limitations,
	}
	for _, s := range spans {
		card.EvidenceSpanIDs = append(card.EvidenceSpanIDs, s.SpanID)
	}
	dropUnbackedFields(&card, spans)
	return card, spans, nil
}

var validFieldTags = map[domain.EvidenceFieldTag]bool{
	domain.FieldProblem:    true,
	domain.FieldMethod:     true,
	domain.FieldDataset:    true,
	domain.FieldMetric:     true,
	domain.FieldResult:     true,
	domain.FieldLimitation: true,
}

// dropUnbackedFields blanks any populated StudyCard field that has no
// span of the matching tag, keeping the "every non-empty field is backed
// by ≥1 evidence span" invariant even when the LLM filled a field without
// quoting for it.
func dropUnbackedFields(card *domain.StudyCard, spans []domain.EvidenceSpan) {
	have := make(map[domain.EvidenceFieldTag]bool, len(spans))
	for _, s := range spans {
		have[s.Field] = true
	}
	if !have[domain.FieldProblem] {
		card.Problem = ""
	}
	if !have[domain.FieldMethod] {
		card.Method = ""
	}
	if !have[domain.FieldDataset] {
		card.Datasets = nil
	}
	if !have[domain.FieldMetric] {
		card.Metrics = nil
	}
	if !have[domain.FieldResult] {
		card.Results = ""
	}
	if !have[domain.FieldLimitation] {
		card.Limitations = ""
	}
}

// resolveLocator finds snippet's character offset in fullText and maps it
// onto the page it falls in, per spec.md §4.6 evidence_extraction's "Locator
// is resolved against the page map when full text is used". A snippet that
// cannot be found verbatim (e.g. the LLM paraphrased rather than quoted)
// leaves the Locator zero-valued rather than guessing.
func resolveLocator(fullText string, pageMap []domain.PageInfo, snippet string) domain.Locator {
	idx := strings.Index(fullText, snippet)
	if idx < 0 {
		return domain.Locator{}
	}
	start, end := idx, idx+len(snippet)

	for _, page := range pageMap {
		if start >= page.CharStart && start < page.CharEnd {
			p := page.Page
			return domain.Locator{
				Page:      &p,
				Section:   page.Section,
				CharStart: &start,
				CharEnd:   &end,
			}
		}
	}
	return domain.Locator{CharStart: &start, CharEnd: &end}
}

// SpanID derives the deterministic evidence-span id {paper_id}#{sha1(snippet)[:8]}.
func SpanID(paperID, snippet string) string {
	sum := sha1.Sum([]byte(snippet))
	return fmt.Sprintf("%s#%s", paperID, hex.EncodeToString(sum[:])[:8])
}
