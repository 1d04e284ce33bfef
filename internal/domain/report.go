package domain

import "time"

// Report is the writer phase's final Markdown artifact for one research
// session, persisted once the pipeline reaches the `publish` phase.
type Report struct {
	PlanID        string
	SessionID     string
	Topic         string
	Markdown      string
	CitationAudit CitationAuditResult
	CreatedAt     time.Time
}
