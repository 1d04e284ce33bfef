package planner

import (
	"context"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/query"
)

// AdaptivePlanner wraps Planner with the Query Analyzer's routing decision
// and the static QUICK/FULL phase template (spec.md §4.3).
type AdaptivePlanner struct {
	planner *Planner
	parser  *query.Parser
}

func NewAdaptivePlanner(planner *Planner, parser *query.Parser) *AdaptivePlanner {
	return &AdaptivePlanner{planner: planner, parser: parser}
}

// Build parses the query, constructs the underlying plan, and attaches a
// PhaseConfig selected from the static template keyed on query type.
func (a *AdaptivePlanner) Build(ctx context.Context, req domain.ResearchRequest) (domain.AdaptivePlan, error) {
	info := a.parser.Parse(req.Topic)
	info.URLs = query.MergeURLs(info.URLs, req.SourceURLs)

	plan, err := a.planner.Plan(ctx, req)
	if err != nil {
		return domain.AdaptivePlan{}, err
	}

	phases := domain.FullPhases
	if info.Type == domain.QueryTypeQuick {
		phases = domain.QuickPhases
	}

	return domain.AdaptivePlan{
		Plan:        plan,
		QueryInfo:   info,
		PhaseConfig: domain.PhaseConfig{ActivePhases: append([]domain.PhaseName{}, phases...)},
	}, nil
}
