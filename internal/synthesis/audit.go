package synthesis

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// citationAuditSalienceThreshold is the salience floor below which the
// audit skips the LLM semantic check entirely (spec.md §4.6, Glossary).
const citationAuditSalienceThreshold = 0.3

// maxRepairPasses bounds how many times the auditor re-asks the LLM for a
// more conservative rewrite of a major-failure claim before settling on
// whatever it last produced (spec.md §4.6).
const maxRepairPasses = 2

// CitationAuditor verifies every claim's evidence_span_ids resolve to
// real, known spans and, for salient claims, asks the LLM whether the
// resolved snippets actually support the claim text — repairing minor
// and major failures in place rather than silently dropping claims.
type CitationAuditor struct {
	client llm.Client

	// Limit bounds how many claims are audited concurrently; zero or
	// negative audits serially.
	Limit int
}

// NewCitationAuditor builds an auditor. A nil client degrades to
// structural-only auditing (span resolution, no semantic check) — used
// by tests and by any QUICK-style caller that never reaches this phase
// with an LLM configured.
func NewCitationAuditor(client llm.Client) *CitationAuditor {
	return &CitationAuditor{client: client}
}

// AuditResult pairs a claim with its audit verdict, for the writer to
// decide whether to include it.
type AuditResult struct {
	Claim  domain.Claim
	Passed bool
	Major  bool // true: excluded from the report entirely
}

type supportVerdict struct {
	Supported bool   `json:"supported"`
	Severity  string `json:"severity"` // "minor" | "major", ignored when Supported
	Rewrite   string `json:"rewrite"`  // conservative rewrite, only read on major
}

const auditSystemPrompt = `You are a citation auditor for a research synthesis report. You are given
a claim and the verbatim evidence snippets it cites. Decide whether the
snippets actually, semantically support the claim as written.

If they fully support it, return supported=true.
If they partially support it or overstate what the evidence shows, return
supported=false, severity="minor".
If the snippets do not support the claim at all, return supported=false,
severity="major", and rewrite the claim into a more conservative statement
that the snippets DO support. Never invent facts not present in the
snippets.`

// Audit checks claims against the known span set, then — for claims at or
// above the salience threshold — asks the LLM whether the resolved
// snippets actually support the text. Structural failures (no span
// resolves) are always major and excluded; semantic failures are
// repaired in place. Claims below the salience threshold, or an audit run
// with no claims at all, make zero LLM calls (spec.md §8). Claims are
// independent, so up to Limit of them are audited concurrently; results
// keep the input claim order.
func (a *CitationAuditor) Audit(ctx context.Context, claims []domain.Claim, knownSpans map[string]domain.EvidenceSpan) (domain.CitationAuditResult, []AuditResult) {
	limit := a.Limit
	if limit <= 0 {
		limit = 1
	}

	results := make([]AuditResult, len(claims))
	deltas := make([]domain.CitationAuditResult, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, claim := range claims {
		i, claim := i, claim
		g.Go(func() error {
			results[i], deltas[i] = a.auditOne(gctx, claim, knownSpans)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	var tally domain.CitationAuditResult
	for _, d := range deltas {
		tally.Passed += d.Passed
		tally.FailedMajor += d.FailedMajor
		tally.FailedMinor += d.FailedMinor
		tally.Repaired += d.Repaired
	}
	return tally, results
}

// auditOne audits a single claim and returns its verdict plus the tally
// contribution, so concurrent workers never share a counter.
func (a *CitationAuditor) auditOne(ctx context.Context, claim domain.Claim, knownSpans map[string]domain.EvidenceSpan) (AuditResult, domain.CitationAuditResult) {
	var delta domain.CitationAuditResult

	valid, invalidCount := resolveSpans(claim.EvidenceSpanIDs, knownSpans)
	if len(valid) == 0 {
		delta.FailedMajor++
		return AuditResult{Claim: claim, Passed: false, Major: true}, delta
	}
	claim.EvidenceSpanIDs = valid
	structurallyRepaired := invalidCount > 0

	if a.client == nil || claim.Salience < citationAuditSalienceThreshold {
		if structurallyRepaired {
			claim.UncertaintyFlag = true
			delta.FailedMinor++
			delta.Repaired++
		}
		delta.Passed++
		return AuditResult{Claim: claim, Passed: true}, delta
	}

	repairedClaim, outcome := a.verifyAndRepair(ctx, claim, knownSpans)
	if structurallyRepaired {
		repairedClaim.UncertaintyFlag = true
	}
	switch outcome {
	case outcomeSupported:
		if structurallyRepaired {
			delta.FailedMinor++
			delta.Repaired++
		}
	case outcomeMinor:
		delta.FailedMinor++
		delta.Repaired++
	case outcomeMajor:
		delta.FailedMajor++
		delta.Repaired++
	}
	delta.Passed++
	return AuditResult{Claim: repairedClaim, Passed: true}, delta
}

type repairOutcome int

const (
	outcomeSupported repairOutcome = iota
	outcomeMinor
	outcomeMajor
)

// verifyAndRepair asks the LLM whether claim's (already span-resolved)
// text is supported by its snippets. A minor verdict only flips the
// uncertainty flag. A major verdict drives up to maxRepairPasses rewrite
// attempts, each re-verified, settling on the last rewrite (or the
// "Evidence suggests that" fallback) if none comes back supported.
func (a *CitationAuditor) verifyAndRepair(ctx context.Context, claim domain.Claim, knownSpans map[string]domain.EvidenceSpan) (domain.Claim, repairOutcome) {
	verdict, err := a.checkSupport(ctx, claim, knownSpans)
	if err != nil {
		// LLM parse/call failure: treat like the safe-default elsewhere in
		// synthesis — mark uncertain rather than silently trusting the claim.
		claim.UncertaintyFlag = true
		return claim, outcomeMinor
	}
	if verdict.Supported {
		return claim, outcomeSupported
	}
	if strings.ToLower(strings.TrimSpace(verdict.Severity)) != "major" {
		claim.UncertaintyFlag = true
		return claim, outcomeMinor
	}

	claim.UncertaintyFlag = true
	rewrite := verdict.Rewrite
	for pass := 1; pass <= maxRepairPasses; pass++ {
		if rewrite == "" {
			rewrite = conservativeFallback(claim.Text)
		}
		claim.Text = rewrite

		next, err := a.checkSupport(ctx, claim, knownSpans)
		if err != nil || next.Supported {
			break
		}
		rewrite = next.Rewrite
	}
	return claim, outcomeMajor
}

func conservativeFallback(original string) string {
	return "Evidence suggests that " + strings.TrimSpace(original)
}

func (a *CitationAuditor) checkSupport(ctx context.Context, claim domain.Claim, knownSpans map[string]domain.EvidenceSpan) (supportVerdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %q\n\nEvidence snippets:\n", claim.Text)
	for _, id := range claim.EvidenceSpanIDs {
		if span, ok := knownSpans[id]; ok {
			fmt.Fprintf(&b, "- (%s) %q\n", span.Field, span.Snippet)
		}
	}

	var resp supportVerdict
	_, err := a.client.Chat(ctx, llm.Request{
		SystemPrompt: auditSystemPrompt,
		UserPrompt:   b.String(),
		SchemaName:   "citation_support_verdict",
		Schema:       llm.GenerateSchema[supportVerdict](),
		Temperature:  llm.Temp(0.1),
	}, &resp)
	if err != nil {
		return supportVerdict{}, fmt.Errorf("synthesis: citation support check: %w", err)
	}
	return resp, nil
}

// resolveSpans splits a claim's span ids into those present in knownSpans
// and a count of those that are not, without ever adding ids the claim
// did not already reference (the audit must not invent new spans).
func resolveSpans(ids []string, knownSpans map[string]domain.EvidenceSpan) ([]string, int) {
	valid := make([]string, 0, len(ids))
	invalid := 0
	for _, id := range ids {
		if _, ok := knownSpans[id]; ok {
			valid = append(valid, id)
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// PassingClaims filters results down to the claims the writer may cite.
func PassingClaims(results []AuditResult) []domain.Claim {
	var claims []domain.Claim
	for _, r := range results {
		if r.Passed {
			claims = append(claims, r.Claim)
		}
	}
	return claims
}

// RequireMinimumPassRate returns an error when the audit's pass rate falls
// below threshold, letting the pipeline gate publish on audit quality.
func RequireMinimumPassRate(result domain.CitationAuditResult, threshold float64) error {
	if result.PassRate() < threshold {
		return fmt.Errorf("synthesis: citation audit pass rate %.2f below threshold %.2f", result.PassRate(), threshold)
	}
	return nil
}
