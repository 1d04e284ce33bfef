package domain

import "time"

// PaperStatus tracks a Paper's progress through the pipeline's phases.
type PaperStatus string

const (
	PaperStatusRaw        PaperStatus = "raw"
	PaperStatusScreened   PaperStatus = "screened"
	PaperStatusFulltext   PaperStatus = "fulltext"
	PaperStatusExtracted  PaperStatus = "extracted"
	PaperStatusScored     PaperStatus = "scored"
	PaperStatusSummarized PaperStatus = "summarized"
	PaperStatusIndexed    PaperStatus = "indexed"
	PaperStatusReported   PaperStatus = "reported"
)

// screenedOrLater is the set of statuses a non-nil relevance score requires.
var screenedOrLater = map[PaperStatus]bool{
	PaperStatusScreened:   true,
	PaperStatusFulltext:   true,
	PaperStatusExtracted:  true,
	PaperStatusScored:     true,
	PaperStatusSummarized: true,
	PaperStatusIndexed:    true,
	PaperStatusReported:   true,
}

// PageInfo maps a character offset range in a paper's full text to a
// page/section locator.
type PageInfo struct {
	CharStart int
	CharEnd   int
	Page      int
	Section   string
}

// Paper is the canonical per-paper record threaded through every phase.
type Paper struct {
	ID string // persistent id assigned in the persistence phase

	// Identity fields: at most one of ArxivID/DOI is expected to be set on
	// any given source record, though both may end up populated once a
	// record is enriched by a second source.
	ArxivID string
	DOI     string

	Title         string // required
	Abstract      string
	Authors       []string
	Published     *time.Time
	Source        string // source tag, e.g. "arxiv", "openalex", "url"
	AbsURL        string
	PDFURL        string

	Status         PaperStatus
	RelevanceScore *float64 // [0,10]
	Summary        string
	ClusterID      string
	PlanID         string
	StepID         int

	FullText string
	PageMap  []PageInfo

	MetadataHash string
	PDFHash      string
}

// ValidStatus reports whether the paper's status is consistent with its
// relevance score and full-text invariants.
func (p Paper) ValidStatus() bool {
	if p.RelevanceScore != nil && !screenedOrLater[p.Status] {
		return false
	}
	if p.FullText != "" && (len(p.PageMap) == 0 || p.PDFHash == "") {
		return false
	}
	return true
}

// Identity returns the strongest available identity key for deduplication:
// arXiv id, then DOI, then empty (caller falls back to fingerprint/fuzzy).
func (p Paper) Identity() (kind, value string) {
	if p.ArxivID != "" {
		return "arxiv", p.ArxivID
	}
	if p.DOI != "" {
		return "doi", p.DOI
	}
	return "", ""
}

// ScreeningTier is the decision tier assigned by the Screener.
type ScreeningTier string

const (
	TierCore       ScreeningTier = "core"
	TierBackground ScreeningTier = "background"
	TierExclude    ScreeningTier = "exclude"
)

// ScreeningRecord is written once per (paper, screening run).
type ScreeningRecord struct {
	PaperID   string
	Tier      ScreeningTier
	Include   bool // derived: Tier == exclude ⇒ false
	Reason    string
	Rationale string
	Relevance float64
}

// NewScreeningRecord builds a record enforcing the exclude⇒include=false
// derivation.
func NewScreeningRecord(paperID string, tier ScreeningTier, reason, rationale string, relevance float64) ScreeningRecord {
	return ScreeningRecord{
		PaperID:   paperID,
		Tier:      tier,
		Include:   tier != TierExclude,
		Reason:    reason,
		Rationale: rationale,
		Relevance: relevance,
	}
}

// EvidenceFieldTag is the structured field an EvidenceSpan backs.
type EvidenceFieldTag string

const (
	FieldProblem    EvidenceFieldTag = "problem"
	FieldMethod     EvidenceFieldTag = "method"
	FieldDataset    EvidenceFieldTag = "dataset"
	FieldMetric     EvidenceFieldTag = "metric"
	FieldResult     EvidenceFieldTag = "result"
	FieldLimitation EvidenceFieldTag = "limitation"
)

// Locator pinpoints an EvidenceSpan's snippet in the source paper.
type Locator struct {
	Page      *int
	Section   string
	CharStart *int
	CharEnd   *int
}

// EvidenceSpan is an immutable, verbatim snippet with a deterministic id of
// the form {paper_id}#{sha1(snippet)[:8]}.
type EvidenceSpan struct {
	SpanID     string
	PaperID    string
	Field      EvidenceFieldTag
	Snippet    string // verbatim, truncated to 300 chars
	Locator    Locator
	Confidence float64 // [0,1]
	SourceURL  string
}

const maxSnippetLen = 300

// TruncateSnippet clamps a snippet to the 300-char limit EvidenceSpan
// enforces.
func TruncateSnippet(s string) string {
	r := []rune(s)
	if len(r) <= maxSnippetLen {
		return s
	}
	return string(r[:maxSnippetLen])
}

// StudyCard aggregates one paper's extracted fields, each backed by ≥ 1
// evidence span.
type StudyCard struct {
	PaperID         string
	Problem         string
	Method          string
	Datasets        []string
	Metrics         []string
	Results         string
	Limitations     string
	EvidenceSpanIDs []string
}
