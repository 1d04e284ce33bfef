package synthesis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"scholarpilot.dev/core/internal/domain"
)

// GroundedWriter renders the final Markdown report from the synthesis
// phase's accumulated artifacts, in the fixed outline: scope & search
// strategy, theme map, per-theme synthesis with inline evidence quotes, a
// comparative table from the taxonomy, aggregated limitations, future
// directions, and a numbered reference list (spec.md §4.6).
type GroundedWriter struct{}

func NewGroundedWriter() *GroundedWriter {
	return &GroundedWriter{}
}

// WriteInput bundles everything the writer needs; it never calls an LLM
// or any external service, so report generation is deterministic given
// the same synthesis artifacts.
type WriteInput struct {
	Topic       string
	PlanID      string
	SessionID   string
	Papers      []domain.Paper // keyed by ID, used for the reference list
	Clusters    []domain.Cluster
	Claims      []domain.Claim // already audit-passed
	Spans       map[string]domain.EvidenceSpan
	Matrix      domain.TaxonomyMatrix
	Directions  []domain.FutureDirection
	CitationRes domain.CitationAuditResult
}

// Write renders the Markdown report.
func (w *GroundedWriter) Write(in WriteInput) domain.Report {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Report: %s\n\n", in.Topic)

	w.writeScope(&b, in)
	w.writeThemeMap(&b, in)
	w.writeThemeSynthesis(&b, in)
	w.writeComparativeTable(&b, in)
	w.writeLimitations(&b, in)
	w.writeFutureDirections(&b, in)
	w.writeReferences(&b, in)

	return domain.Report{
		PlanID:        in.PlanID,
		SessionID:     in.SessionID,
		Topic:         in.Topic,
		Markdown:      b.String(),
		CitationAudit: in.CitationRes,
	}
}

func (w *GroundedWriter) writeScope(b *strings.Builder, in WriteInput) {
	b.WriteString("## Scope & Search Strategy\n\n")
	fmt.Fprintf(b, "This report covers %d papers screened and organized into %d themes.\n\n", len(in.Papers), len(in.Clusters))
}

func (w *GroundedWriter) writeThemeMap(b *strings.Builder, in WriteInput) {
	b.WriteString("## Theme Map\n\n")
	for _, c := range in.Clusters {
		fmt.Fprintf(b, "- **%s** (%d papers) — %s\n", c.Name, len(c.PaperIDs), c.Description)
	}
	b.WriteString("\n")
}

func (w *GroundedWriter) writeThemeSynthesis(b *strings.Builder, in WriteInput) {
	b.WriteString("## Theme Synthesis\n\n")

	byCluster := make(map[string][]domain.Claim)
	for _, claim := range in.Claims {
		byCluster[claim.ThemeID] = append(byCluster[claim.ThemeID], claim)
	}

	for _, c := range in.Clusters {
		fmt.Fprintf(b, "### %s\n\n", c.Name)
		claims := byCluster[c.ID]
		sort.Slice(claims, func(i, j int) bool { return claims[i].Salience > claims[j].Salience })
		for _, claim := range claims {
			fmt.Fprintf(b, "- %s", claim.Text)
			if claim.UncertaintyFlag {
				b.WriteString(" *(uncertain)*")
			}
			b.WriteString("\n")
			for _, spanID := range claim.EvidenceSpanIDs {
				if span, ok := in.Spans[spanID]; ok {
					fmt.Fprintf(b, "  > %q\n", span.Snippet)
				}
			}
		}
		b.WriteString("\n")
	}
}

func (w *GroundedWriter) writeComparativeTable(b *strings.Builder, in WriteInput) {
	if len(in.Matrix.Themes) == 0 {
		return
	}
	b.WriteString("## Comparative Table\n\n")
	b.WriteString("| Theme | Dataset | Metric | Papers |\n|---|---|---|---|\n")
	for _, theme := range in.Matrix.Themes {
		for _, dataset := range in.Matrix.Datasets {
			for _, metric := range in.Matrix.Metrics {
				key := domain.TaxonomyCellKey{Theme: theme, Dataset: dataset, Metric: metric}
				papers := in.Matrix.Cells[key]
				if len(papers) == 0 {
					continue
				}
				fmt.Fprintf(b, "| %s | %s | %s | %d |\n", theme, dataset, metric, len(papers))
			}
		}
	}
	b.WriteString("\n")
}

func (w *GroundedWriter) writeLimitations(b *strings.Builder, in WriteInput) {
	b.WriteString("## Aggregated Limitations\n\n")

	var limitations []domain.EvidenceSpan
	for _, span := range in.Spans {
		if span.Field == domain.FieldLimitation {
			limitations = append(limitations, span)
		}
	}
	sort.Slice(limitations, func(i, j int) bool { return limitations[i].SpanID < limitations[j].SpanID })

	for _, span := range limitations {
		fmt.Fprintf(b, "- %s\n", span.Snippet)
	}
	if len(limitations) == 0 {
		b.WriteString("- No explicit limitations were extracted from the corpus.\n")
	}
	b.WriteString("\n")
}

func (w *GroundedWriter) writeFutureDirections(b *strings.Builder, in WriteInput) {
	b.WriteString("## Future Directions\n\n")
	if len(in.Directions) == 0 {
		b.WriteString("- None identified.\n\n")
		return
	}
	for _, d := range in.Directions {
		fmt.Fprintf(b, "- **[%s]** %s — %s\n", d.Type, d.Title, d.Description)
	}
	b.WriteString("\n")
}

// writeReferences renders the numbered reference list, `authors (year).
// *title*. [url](url)` per entry, in paper-ID order for stability, and
// returns the paper-id → reference-number mapping.
func (w *GroundedWriter) writeReferences(b *strings.Builder, in WriteInput) map[string]int {
	b.WriteString("## References\n\n")

	papers := append([]domain.Paper{}, in.Papers...)
	sort.Slice(papers, func(i, j int) bool { return papers[i].ID < papers[j].ID })

	refs := make(map[string]int, len(papers))
	for i, p := range papers {
		n := i + 1
		refs[p.ID] = n
		year := "n.d."
		if p.Published != nil {
			year = strconv.Itoa(p.Published.Year())
		}
		authors := strings.Join(p.Authors, ", ")
		if authors == "" {
			authors = "Unknown"
		}
		url := p.AbsURL
		if url == "" {
			url = p.PDFURL
		}
		fmt.Fprintf(b, "%d. %s (%s). *%s*. [%s](%s)\n", n, authors, year, p.Title, url, url)
	}
	return refs
}
