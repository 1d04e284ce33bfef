package domain

// Cluster partitions the post-screening corpus; each paper belongs to at
// most one cluster.
type Cluster struct {
	ID          string
	Name        string
	Description string
	PaperIDs    []string
	PlanID      string
}

// Claim is an atomic, salience-scored statement grounded in ≥ 1 evidence
// span.
type Claim struct {
	ClaimID         string
	Text            string
	EvidenceSpanIDs []string // non-empty
	ThemeID         string   // cluster id
	Salience        float64  // [0,1]
	UncertaintyFlag bool
}

// TaxonomyMatrix is a sparse (theme, dataset, metric) grid over paper ids.
type TaxonomyMatrix struct {
	Themes        []string
	Datasets      []string
	Metrics       []string
	MethodFamilies []string
	Cells         map[TaxonomyCellKey][]string // paper ids
}

// TaxonomyCellKey identifies one cell of the TaxonomyMatrix.
type TaxonomyCellKey struct {
	Theme  string
	Dataset string
	Metric string
}

// EmptyCells returns the (theme, dataset, metric) combinations with no
// papers — taxonomy holes, one of the gap-mining sources.
func (m TaxonomyMatrix) EmptyCells() []TaxonomyCellKey {
	var holes []TaxonomyCellKey
	for _, theme := range m.Themes {
		for _, dataset := range m.Datasets {
			for _, metric := range m.Metrics {
				key := TaxonomyCellKey{Theme: theme, Dataset: dataset, Metric: metric}
				if len(m.Cells[key]) == 0 {
					holes = append(holes, key)
				}
			}
		}
	}
	return holes
}

// GapSource identifies where a FutureDirection was mined from.
type GapSource string

const (
	GapSourceLimitationCluster   GapSource = "limitation_cluster"
	GapSourceContradictoryResults GapSource = "contradictory_results"
	GapSourceTaxonomyHole        GapSource = "taxonomy_hole"
)

// FutureDirectionType classifies a mined gap.
type FutureDirectionType string

const (
	DirectionOpenProblem        FutureDirectionType = "open_problem"
	DirectionResearchOpportunity FutureDirectionType = "research_opportunity"
	DirectionNextExperiment     FutureDirectionType = "next_experiment"
)

// FutureDirection is a mined gap, optionally grounded in limitation spans.
type FutureDirection struct {
	Type                    FutureDirectionType
	Title                   string
	Description             string
	LimitationSpanIDs       []string // may be empty
	Source                  GapSource
}

// CitationAuditResult tallies the outcome of the citation_audit phase.
type CitationAuditResult struct {
	Passed       int
	FailedMajor  int
	FailedMinor  int
	Repaired     int
}

// PassRate returns Passed / (Passed+FailedMajor+FailedMinor), or 1.0 when
// there were no claims to audit.
func (r CitationAuditResult) PassRate() float64 {
	total := r.Passed + r.FailedMajor + r.FailedMinor
	if total == 0 {
		return 1.0
	}
	return float64(r.Passed) / float64(total)
}
