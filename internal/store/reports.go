package store

import (
	"context"
	"fmt"
	"time"

	"scholarpilot.dev/core/internal/domain"
)

// SaveReport persists the writer phase's Markdown output, keyed by plan.
func (s *Store) SaveReport(ctx context.Context, report domain.Report) error {
	const query = `
		INSERT INTO reports (
			plan_id, session_id, topic, markdown, citations_passed,
			citations_failed_major, citations_failed_minor, citations_repaired,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (plan_id) DO UPDATE SET
			markdown = EXCLUDED.markdown,
			citations_passed = EXCLUDED.citations_passed,
			citations_failed_major = EXCLUDED.citations_failed_major,
			citations_failed_minor = EXCLUDED.citations_failed_minor,
			citations_repaired = EXCLUDED.citations_repaired
	`
	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		report.PlanID, report.SessionID, report.Topic, report.Markdown,
		report.CitationAudit.Passed, report.CitationAudit.FailedMajor,
		report.CitationAudit.FailedMinor, report.CitationAudit.Repaired, createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: save report: %w", err)
	}
	return nil
}

// ReportByPlan fetches the report for planID.
func (s *Store) ReportByPlan(ctx context.Context, planID string) (domain.Report, error) {
	const query = `
		SELECT plan_id, session_id, topic, markdown, citations_passed,
			citations_failed_major, citations_failed_minor, citations_repaired, created_at
		FROM reports WHERE plan_id = $1
	`
	var r domain.Report
	err := s.pool.QueryRow(ctx, query, planID).Scan(
		&r.PlanID, &r.SessionID, &r.Topic, &r.Markdown, &r.CitationAudit.Passed,
		&r.CitationAudit.FailedMajor, &r.CitationAudit.FailedMinor,
		&r.CitationAudit.Repaired, &r.CreatedAt,
	)
	if err != nil {
		if noRows(err) {
			return domain.Report{}, ErrNotFound
		}
		return domain.Report{}, fmt.Errorf("store: report by plan: %w", err)
	}
	return r, nil
}
