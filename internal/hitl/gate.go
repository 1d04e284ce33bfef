// Package hitl implements the HITL Gate Manager: creates, queues, and
// resolves approval requests for high-cost pipeline actions (spec.md §4.7).
package hitl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

// gateRetention bounds how long a resolved gate's audit record stays in the
// KV store, matching the research session's own retention (spec.md §6's
// session:{id} 86400s).
const gateRetention = 24 * time.Hour

// DefaultHighTokenBudget is the estimated-token threshold above which a
// high_token_budget gate fires when the caller does not override it.
const DefaultHighTokenBudget = 100_000

// PDFGateThreshold is the included-paper count above which the
// pdf_download gate fires.
const PDFGateThreshold = 15

// BandwidthPerPaperMB is the per-paper bandwidth estimate the pdf_download
// gate's context carries.
const BandwidthPerPaperMB = 2

// Manager creates gates and resolves them via a caller-supplied approval
// callback. Absent a callback, the default policy is auto-approve
// (development mode).
type Manager struct {
	store    kv.Store
	approve  domain.ApprovalCallback
	mu       sync.Mutex
	byID     map[string]*domain.Gate
}

func NewManager(store kv.Store, approve domain.ApprovalCallback) *Manager {
	return &Manager{store: store, approve: approve, byID: make(map[string]*domain.Gate)}
}

// Request creates a gate and resolves it immediately via the approval
// callback (or auto-approve when none is configured), returning the
// decision. The gate is retained in-process for later inspection/audit.
func (m *Manager) Request(ctx context.Context, sessionID string, kind domain.GateKind, gateCtx map[string]any) (domain.GateDecision, error) {
	gate := &domain.Gate{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Context:   gateCtx,
	}

	decision := domain.DecisionApproved
	if m.approve != nil {
		d, err := m.approve(*gate)
		if err != nil {
			slog.WarnContext(ctx, "hitl: approval callback failed, auto-approving", "gate_kind", kind, "error", err)
		} else {
			decision = d
		}
	} else {
		slog.InfoContext(ctx, "hitl: no approval callback configured, auto-approving", "gate_kind", kind)
	}

	gate.Decision = &decision

	m.mu.Lock()
	m.byID[gate.ID] = gate
	m.mu.Unlock()

	if m.store != nil {
		if err := kv.PutJSON(ctx, m.store, kv.GateKey(gate.ID), gate, gateRetention); err != nil {
			slog.WarnContext(ctx, "hitl: failed to persist gate decision", "gate_id", gate.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "hitl gate resolved", "gate_id", gate.ID, "gate_kind", kind, "decision", decision)
	return decision, nil
}

// Get returns a previously resolved gate by id, for audit/inspection.
func (m *Manager) Get(id string) (*domain.Gate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byID[id]
	return g, ok
}

// PDFDownloadContext builds the context map for a pdf_download gate.
func PDFDownloadContext(papersToDownload int) map[string]any {
	return map[string]any{
		"papers_to_download":    papersToDownload,
		"estimated_bandwidth_mb": papersToDownload * BandwidthPerPaperMB,
	}
}

// ExternalCrawlContext builds the context map for an external_crawl gate.
func ExternalCrawlContext(externalURLs []string) map[string]any {
	sorted := append([]string{}, externalURLs...)
	sort.Strings(sorted)
	return map[string]any{"external_urls": sorted}
}

// HighTokenBudgetContext builds the context map for a high_token_budget
// gate, including a notional cost estimate at $0.01 per 1,000 tokens
// (order-of-magnitude figure for a HITL prompt, not a billing source of
// truth).
func HighTokenBudgetContext(estimatedTokens int) map[string]any {
	return map[string]any{
		"estimated_tokens": estimatedTokens,
		"notional_cost_usd": fmt.Sprintf("%.2f", float64(estimatedTokens)/1000*0.01),
	}
}

// ShouldGatePDFDownload reports whether the pdf_download gate should fire
// for a given included-paper count against threshold; threshold<=0 means
// PDFGateThreshold.
func ShouldGatePDFDownload(includedCount, threshold int) bool {
	if threshold <= 0 {
		threshold = PDFGateThreshold
	}
	return includedCount > threshold
}

// ExternalURLs filters urls down to the ones isWhitelisted rejects, deduped
// and sorted, for the external_crawl gate's "any URL outside the whitelist"
// trigger (spec.md §4.4).
func ExternalURLs(urls []string, isWhitelisted func(string) bool) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, u := range urls {
		if u == "" || isWhitelisted(u) || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ShouldGateHighTokenBudget reports whether the high_token_budget gate
// should fire for an estimated token count against threshold.
func ShouldGateHighTokenBudget(estimatedTokens, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultHighTokenBudget
	}
	return estimatedTokens > threshold
}
