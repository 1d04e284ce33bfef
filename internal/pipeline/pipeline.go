// Package pipeline drives a research session through its phase sequence
// (planning → execution → persistence → [screening → pdf_loading →
// evidence_extraction → clustering → claim_generation → gap_mining →
// citation_audit → writing → publish] for FULL, or just `analysis` for
// QUICK), checkpointing after each phase so a crashed run resumes instead
// of restarting (spec.md §4.6, §7; citation_audit and writing are
// reordered relative to §4.3's prose list, see DESIGN.md).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/cache"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/executor"
	"scholarpilot.dev/core/internal/graphstore"
	"scholarpilot.dev/core/internal/hitl"
	"scholarpilot.dev/core/internal/kv"
	"scholarpilot.dev/core/internal/perrors"
	"scholarpilot.dev/core/internal/planner"
	"scholarpilot.dev/core/internal/store"
	"scholarpilot.dev/core/internal/synthesis"
	"scholarpilot.dev/core/internal/tools"
)

// defaultPDFRelevanceThreshold is the score a paper must clear before the
// pdf_loading phase downloads it (spec.md §4.6).
const defaultPDFRelevanceThreshold = 8.0

// pdfLoader is the subset of *tools.PDFLoader pdf_loading depends on,
// narrowed to an interface so tests can substitute a fake fetcher instead
// of hitting the network.
type pdfLoader interface {
	Load(ctx context.Context, pdfURL string) (fullText string, pages []domain.PageInfo, pdfHash string, err error)
}

// Checkpoint is what gets persisted after each completed phase, so a
// resumed run can skip straight to the next one.
type Checkpoint struct {
	Phase     domain.PhaseName `json:"phase"`
	Completed bool             `json:"completed"`
}

// checkpointTTL bounds how long a resumable checkpoint survives; a run
// abandoned longer than this restarts from scratch rather than resuming
// against possibly-stale plan data.
const checkpointTTL = 24 * time.Hour

// Pipeline wires every phase's dependency together. Any field may be nil
// in a test/QUICK-only configuration that never reaches that phase.
// Persistence and publish return an error when Store is nil; a nil Cache
// or PDFLoader skips pdf_loading and a nil Graph skips graph writes. KV,
// Executor, and AdaptivePlanner (when no PrebuiltPlan is given) are used
// without a nil check.
type Pipeline struct {
	KV              kv.Store
	AdaptivePlanner *planner.AdaptivePlanner
	Executor        *executor.Executor
	Gates           *hitl.Manager
	Store           *store.Store
	Graph           graphstore.Store
	Progress        domain.ProgressCallback
	LLM             llm.Client

	// Cache backs the pdf_pages_cache lookups pdf_loading consults before
	// downloading. PDFLoader does the actual fetch+extract; both nil simply
	// skips the phase, leaving downstream extraction to fall back to
	// abstracts (spec.md §4.6, §7 "bad-input"-style graceful degradation).
	Cache     *cache.Cache
	PDFLoader pdfLoader

	// PDFRelevanceThreshold is the minimum score a paper needs to have its
	// PDF downloaded; zero means defaultPDFRelevanceThreshold.
	PDFRelevanceThreshold float64

	// HighTokenBudgetThreshold overrides hitl.DefaultHighTokenBudget for the
	// high_token_budget gate; zero means use the default.
	HighTokenBudgetThreshold int

	// PDFDownloadGateThreshold overrides hitl.PDFGateThreshold for the
	// pdf_download gate; zero means use the default.
	PDFDownloadGateThreshold int

	// MaxParallelEvidence/MaxParallelAudit/MaxParallelPDFLoad bound the
	// evidence-extraction, citation-audit and pdf_loading fan-out
	// (spec.md §5); zero falls back to serial.
	MaxParallelEvidence int
	MaxParallelAudit    int
	MaxParallelPDFLoad  int
}

// Session is the per-run input: identifies the user/session, and carries
// the request the adaptive plan is built from.
type Session struct {
	SessionID string
	UserID    string
	Request   domain.ResearchRequest

	// PrebuiltPlan, when set, is used in place of calling AdaptivePlanner.Build.
	// The Dialogue Orchestrator sets this when the user reviewed and possibly
	// edited the plan during REVIEWING (spec.md §4.1's execution bridge) so
	// confirmed edits survive into execution instead of being silently
	// discarded by a fresh re-plan.
	PrebuiltPlan *domain.AdaptivePlan
}

// sessionTTL bounds how long a queued session's request survives
// unresumed, matching checkpointTTL so the two never disagree about
// whether a stale run is resumable.
const sessionTTL = checkpointTTL

// SaveSession persists a session's request so a queue worker that only
// receives a session_id can reload it before calling Run.
func SaveSession(ctx context.Context, store kv.Store, sess Session) error {
	return kv.PutJSON(ctx, store, kv.SessionKey(sess.SessionID), sess, sessionTTL)
}

// LoadSession reloads a session previously saved with SaveSession.
func LoadSession(ctx context.Context, store kv.Store, sessionID string) (Session, bool, error) {
	var sess Session
	found, err := kv.GetJSON(ctx, store, kv.SessionKey(sessionID), &sess)
	if err != nil {
		return Session{}, false, fmt.Errorf("pipeline: load session %s: %w", sessionID, err)
	}
	return sess, found, nil
}

// Run executes every active phase of a session's adaptive plan in order,
// checkpointing after each. Calling Run again for the same SessionID
// resumes after the last completed phase instead of redoing work.
func (p *Pipeline) Run(ctx context.Context, sess Session) (domain.Report, error) {
	var adaptive domain.AdaptivePlan
	if sess.PrebuiltPlan != nil {
		adaptive = *sess.PrebuiltPlan
	} else {
		built, err := p.AdaptivePlanner.Build(ctx, sess.Request)
		if err != nil {
			return domain.Report{}, perrors.Fatal(string(domain.PhasePlanning), err)
		}
		adaptive = built
	}

	state := &runState{
		sessionID: sess.SessionID,
		userID:    sess.UserID,
		plan:      &adaptive.Plan,
		queryInfo: adaptive.QueryInfo,
	}

	for _, phase := range adaptive.PhaseConfig.ActivePhases {
		done, err := p.phaseCompleted(ctx, sess.SessionID, phase)
		if err != nil {
			return domain.Report{}, err
		}
		if done {
			continue
		}

		p.emit(ctx, phase, fmt.Sprintf("starting phase %s", phase))
		if err := p.runPhase(ctx, phase, sess, state); err != nil {
			p.emit(ctx, phase, fmt.Sprintf("phase %s failed: %v", phase, err))
			return domain.Report{}, fmt.Errorf("pipeline: phase %s: %w", phase, err)
		}
		if err := p.checkpoint(ctx, sess.SessionID, phase); err != nil {
			return domain.Report{}, err
		}
		p.emit(ctx, phase, fmt.Sprintf("completed phase %s", phase))
	}

	return state.report, nil
}

// runState accumulates the artifacts each phase hands to the next.
type runState struct {
	sessionID string
	userID    string
	plan      *domain.ResearchPlan
	queryInfo domain.QueryInfo

	papers        []domain.Paper
	screening     []domain.ScreeningRecord
	studyCards    map[string]domain.StudyCard
	spans         map[string]domain.EvidenceSpan
	clusters      []domain.Cluster
	claims        []domain.Claim
	auditResult   domain.CitationAuditResult
	matrix        domain.TaxonomyMatrix
	directions    []domain.FutureDirection
	report        domain.Report
}

func (p *Pipeline) runPhase(ctx context.Context, phase domain.PhaseName, sess Session, state *runState) error {
	switch phase {
	case domain.PhasePlanning:
		return nil // the plan was already built before the phase loop started
	case domain.PhaseExecution:
		return p.runExecution(ctx, sess, state)
	case domain.PhasePersistence:
		return p.runPersistence(ctx, state)
	case domain.PhaseAnalysis:
		return p.runAnalysis(ctx, sess, state)
	case domain.PhaseScreening:
		return p.runScreening(ctx, sess, state)
	case domain.PhasePDFLoading:
		return p.runPDFLoading(ctx, state)
	case domain.PhaseEvidenceExtraction:
		return p.runEvidenceExtraction(ctx, sess, state)
	case domain.PhaseClustering:
		return p.runClustering(ctx, sess, state)
	case domain.PhaseClaimGeneration:
		return p.runClaimGeneration(ctx, sess, state)
	case domain.PhaseGapMining:
		return p.runGapMining(ctx, sess, state)
	case domain.PhaseWriting:
		return p.runWriting(ctx, sess, state)
	case domain.PhaseCitationAudit:
		return p.runCitationAudit(ctx, state)
	case domain.PhasePublish:
		return p.runPublish(ctx, sess, state)
	default:
		return fmt.Errorf("pipeline: unknown phase %q", phase)
	}
}

// runExecution guards the plan with the external_crawl gate before a single
// byte is fetched, then runs the Plan Executor. Each remaining gate is
// evaluated at the entry of the phase it guards (spec.md §9's recommended
// resolution for "order of gates when multiple apply"): pdf_download at
// pdf_loading entry, high_token_budget at evidence_extraction entry. A
// rejected gate skips the phase it guards rather than aborting the run
// (spec.md §4.7, §7, scenario 5).
func (p *Pipeline) runExecution(ctx context.Context, sess Session, state *runState) error {
	if external := hitl.ExternalURLs(planURLs(state.plan), tools.IsWhitelistedCrawlDomain); p.Gates != nil && len(external) > 0 {
		decision, err := p.Gates.Request(ctx, sess.SessionID, domain.GateExternalCrawl, hitl.ExternalCrawlContext(external))
		if err != nil {
			return fmt.Errorf("external_crawl gate: %w", err)
		}
		if decision == domain.DecisionRejected {
			restrictCollectStepsToWhitelist(state.plan, tools.IsWhitelistedCrawlDomain)
		}
	}

	result, err := p.Executor.Run(ctx, state.plan, sess.SessionID, p.Progress)
	if err != nil {
		return err
	}
	state.papers = result.Papers
	return nil
}

// planURLs collects every source URL named anywhere in a plan's steps, for
// the external_crawl gate's domain check.
func planURLs(plan *domain.ResearchPlan) []string {
	var urls []string
	for _, step := range plan.Steps {
		urls = append(urls, step.SourceURLs...)
	}
	return urls
}

// restrictCollectStepsToWhitelist drops non-whitelisted URLs from every
// collect step's SourceURLs and ToolArgs after an external_crawl gate is
// rejected; a step left with no URLs loses its tool binding so the Executor
// skips it outright instead of calling a collector with an empty list.
func restrictCollectStepsToWhitelist(plan *domain.ResearchPlan, isWhitelisted func(string) bool) {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.ToolName != "collect_url" && step.ToolName != "collect_urls" {
			continue
		}
		var kept []string
		for _, u := range step.SourceURLs {
			if isWhitelisted(u) {
				kept = append(kept, u)
			}
		}
		step.SourceURLs = kept
		if len(kept) == 0 {
			step.ToolName = ""
			step.ToolArgs = nil
			continue
		}
		if step.ToolName == "collect_url" {
			step.ToolArgs = map[string]any{"url": kept[0]}
		} else {
			step.ToolArgs = map[string]any{"urls": kept}
		}
	}
}

// estimateTokenBudget gives a rough token estimate for the LLM-heavy phases
// a paper corpus still has ahead of it (screening + evidence extraction),
// for the high_token_budget gate. ~4 characters/token plus a fixed
// per-paper prompt overhead; an estimate, not a billing source of truth.
func estimateTokenBudget(papers []domain.Paper) int {
	const charsPerToken = 4
	const perPaperOverheadTokens = 400
	total := 0
	for _, paper := range papers {
		text := paper.FullText
		if text == "" {
			text = paper.Abstract
		}
		total += len(text)/charsPerToken + perPaperOverheadTokens
	}
	return total
}

// runPersistence assigns each paper a persistent id, idempotent by identity
// fields: a paper whose arXiv id or DOI is already on file adopts the
// existing row's id, so re-running the phase never duplicates rows
// (spec.md §4.6, §7).
func (p *Pipeline) runPersistence(ctx context.Context, state *runState) error {
	if p.Store == nil {
		return fmt.Errorf("persistence phase requires a configured store")
	}
	for i, paper := range state.papers {
		if paper.ID == "" {
			if kind, value := paper.Identity(); kind != "" {
				existing, err := p.Store.FindPaperByIdentity(ctx, kind, value)
				switch {
				case err == nil:
					paper.ID = existing.ID
				case !errors.Is(err, store.ErrNotFound):
					return perrors.Fatal(string(domain.PhasePersistence), fmt.Errorf("look up paper %s: %w", paper.Title, err))
				}
			}
		}
		saved, err := p.Store.UpsertPaper(ctx, paper)
		if err != nil {
			return perrors.Fatal(string(domain.PhasePersistence), fmt.Errorf("persist paper %s: %w", paper.Title, err))
		}
		state.papers[i] = saved
	}
	return nil
}

// runAnalysis is the QUICK-only phase. Per the design note resolving
// spec.md's §9 open question, QUICK reuses the Screener's tiering logic to
// assign relevance scores but keeps no ScreeningRecords — a QUICK run just
// stops after scoring instead of continuing into clustering/writing.
func (p *Pipeline) runAnalysis(ctx context.Context, sess Session, state *runState) error {
	if err := p.runScreening(ctx, sess, state); err != nil {
		return err
	}
	state.screening = nil
	return nil
}

func (p *Pipeline) runScreening(ctx context.Context, _ Session, state *runState) error {
	screener := synthesis.NewScreener(p.LLM, state.plan.Topic)
	state.screening = screener.Screen(ctx, state.papers)
	applyScreening(state.papers, state.screening)
	return nil
}

// applyScreening stamps each included paper with its scored relevance and
// promotes it to status screened, keeping the "non-nil relevance score ⇒
// status ≥ screened" invariant; excluded papers stay raw and unscored.
func applyScreening(papers []domain.Paper, records []domain.ScreeningRecord) {
	byID := make(map[string]domain.ScreeningRecord, len(records))
	for _, r := range records {
		byID[r.PaperID] = r
	}
	for i := range papers {
		r, ok := byID[papers[i].ID]
		if !ok || !r.Include {
			continue
		}
		score := r.Relevance
		papers[i].RelevanceScore = &score
		papers[i].Status = domain.PaperStatusScreened
	}
}

// runPDFLoading selectively downloads full text for included papers that
// clear the relevance threshold, skipping known-paywalled domains
// (spec.md §4.6, §4.4 "URL-extracted domains"). The pdf_download gate is
// evaluated here, at phase entry, against the post-screening included
// count (scenario 5); rejection skips the phase and downstream extraction
// falls back to abstracts. Fan-out is bounded to MaxParallelPDFLoad
// in-flight fetches (spec.md §5); a single paper's download or parse
// failing does not fail the phase.
func (p *Pipeline) runPDFLoading(ctx context.Context, state *runState) error {
	if p.PDFLoader == nil || p.Cache == nil {
		return nil // optional infra not configured; downstream falls back to abstract-only extraction
	}

	included := includedPapers(state.papers, state.screening)
	if p.Gates != nil && hitl.ShouldGatePDFDownload(len(included), p.PDFDownloadGateThreshold) {
		decision, err := p.Gates.Request(ctx, state.sessionID, domain.GatePDFDownload, hitl.PDFDownloadContext(len(included)))
		if err != nil {
			return fmt.Errorf("pdf_download gate: %w", err)
		}
		if decision == domain.DecisionRejected {
			p.emit(ctx, domain.PhasePDFLoading, "skipped: pdf_download gate rejected")
			return nil
		}
	}

	threshold := p.PDFRelevanceThreshold
	if threshold == 0 {
		threshold = defaultPDFRelevanceThreshold
	}
	limit := p.MaxParallelPDFLoad
	if limit <= 0 {
		limit = 1
	}

	eligible := make(map[string]bool)
	for _, paper := range included {
		if paper.RelevanceScore != nil && *paper.RelevanceScore >= threshold &&
			paper.PDFURL != "" && !tools.IsPaywalled(paper.PDFURL) {
			eligible[paper.ID] = true
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range state.papers {
		if !eligible[state.papers[i].ID] {
			continue
		}
		idx := i
		g.Go(func() error {
			pdfURL := state.papers[idx].PDFURL
			paperID := state.papers[idx].ID

			if cached, found, err := p.Cache.PDFPagesFor(gctx, pdfURL); err == nil && found && cached.FullText != "" {
				mu.Lock()
				state.papers[idx].FullText = cached.FullText
				state.papers[idx].PageMap = cached.PageInfos
				state.papers[idx].PDFHash = cached.PDFHash
				state.papers[idx].Status = domain.PaperStatusFulltext
				mu.Unlock()
				return nil
			}

			text, pages, hash, err := p.PDFLoader.Load(gctx, pdfURL)
			if err != nil {
				classified := perrors.Classify(gctx, string(domain.PhasePDFLoading), err)
				p.emit(gctx, domain.PhasePDFLoading, fmt.Sprintf("pdf load failed for %s (%s): %v", paperID, classified.Kind, classified))
				return nil
			}
			if text == "" {
				return nil
			}

			if err := p.Cache.PutPDFPages(gctx, pdfURL, cache.PDFPages{FullText: text, PageInfos: pages, PDFHash: hash}); err != nil {
				p.emit(gctx, domain.PhasePDFLoading, fmt.Sprintf("pdf cache write failed for %s: %v", paperID, err))
			}
			// pdf_cache holds the bare text for consumers that don't need
			// the page map (§6's key list carries both).
			if err := p.Cache.PutPDFText(gctx, pdfURL, text); err != nil {
				p.emit(gctx, domain.PhasePDFLoading, fmt.Sprintf("pdf text cache write failed for %s: %v", paperID, err))
			}

			mu.Lock()
			state.papers[idx].FullText = text
			state.papers[idx].PageMap = pages
			state.papers[idx].PDFHash = hash
			state.papers[idx].Status = domain.PaperStatusFulltext
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// includedPapers returns the papers a screening tier kept in scope
// (everything but "exclude"); callers that run before screening (QUICK's
// analysis phase folds into screening itself) get the full corpus back.
func includedPapers(papers []domain.Paper, screening []domain.ScreeningRecord) []domain.Paper {
	if len(screening) == 0 {
		return papers
	}
	excluded := make(map[string]bool, len(screening))
	for _, s := range screening {
		if s.Tier == domain.TierExclude {
			excluded[s.PaperID] = true
		}
	}
	var kept []domain.Paper
	for _, paper := range papers {
		if !excluded[paper.ID] {
			kept = append(kept, paper)
		}
	}
	return kept
}

// runEvidenceExtraction extracts a StudyCard + EvidenceSpans per included
// paper, bounded to MaxParallelEvidence concurrent LLM calls (spec.md §5).
// The high_token_budget gate is evaluated at phase entry against the
// included corpus's estimated spend; rejection skips the phase. A single
// paper's extraction failing does not abort the phase; it is logged and
// the paper is simply left without a card.
func (p *Pipeline) runEvidenceExtraction(ctx context.Context, _ Session, state *runState) error {
	papers := includedPapers(state.papers, state.screening)

	estimate := estimateTokenBudget(papers)
	if p.Gates != nil && hitl.ShouldGateHighTokenBudget(estimate, p.HighTokenBudgetThreshold) {
		decision, err := p.Gates.Request(ctx, state.sessionID, domain.GateHighTokenBudget, hitl.HighTokenBudgetContext(estimate))
		if err != nil {
			return fmt.Errorf("high_token_budget gate: %w", err)
		}
		if decision == domain.DecisionRejected {
			p.emit(ctx, domain.PhaseEvidenceExtraction, "skipped: high_token_budget gate rejected")
			return nil
		}
	}

	extractor := synthesis.NewEvidenceExtractor(p.LLM)

	limit := p.MaxParallelEvidence
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex
	cards := make(map[string]domain.StudyCard, len(papers))
	spans := make(map[string]domain.EvidenceSpan)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, paper := range papers {
		paper := paper
		g.Go(func() error {
			text := paper.FullText
			if text == "" {
				text = paper.Abstract
			}
			card, paperSpans, err := extractor.Extract(gctx, paper, text)
			if err != nil {
				classified := perrors.Classify(gctx, string(domain.PhaseEvidenceExtraction), err)
				p.emit(gctx, domain.PhaseEvidenceExtraction, fmt.Sprintf("evidence extraction failed for %s (%s): %v", paper.ID, classified.Kind, classified))
				return nil
			}
			mu.Lock()
			cards[paper.ID] = card
			for _, span := range paperSpans {
				spans[span.SpanID] = span
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("evidence extraction: %w", err)
	}

	for i := range state.papers {
		if _, ok := cards[state.papers[i].ID]; ok {
			state.papers[i].Status = domain.PaperStatusExtracted
		}
	}

	if p.Graph != nil {
		for _, paper := range papers {
			if err := p.Graph.UpsertPaperNode(ctx, paper.ID, paper.Title); err != nil {
				return fmt.Errorf("evidence extraction: persist paper node %s: %w", paper.ID, err)
			}
		}
		for _, span := range spans {
			if err := p.Graph.UpsertSpan(ctx, span); err != nil {
				return fmt.Errorf("evidence extraction: persist span %s: %w", span.SpanID, err)
			}
		}
	}

	state.studyCards = cards
	state.spans = spans
	return nil
}

func (p *Pipeline) runClustering(ctx context.Context, sess Session, state *runState) error {
	papers := includedPapers(state.papers, state.screening)
	clusterer := synthesis.NewClusterer(p.LLM)
	clusters, err := clusterer.Cluster(ctx, sess.SessionID, papers)
	if err != nil {
		return fmt.Errorf("clustering: %w", err)
	}
	state.clusters = clusters

	if p.Graph != nil {
		for _, cluster := range clusters {
			if err := p.Graph.UpsertCluster(ctx, cluster); err != nil {
				return fmt.Errorf("clustering: persist cluster %s: %w", cluster.ID, err)
			}
		}
	}
	return nil
}

// runClaimGeneration generates claims per cluster, bounded to 3 concurrent
// clusters at a time (spec.md §5's claims:≤3/cluster figure).
func (p *Pipeline) runClaimGeneration(ctx context.Context, _ Session, state *runState) error {
	generator := synthesis.NewClaimGenerator(p.LLM)

	var mu sync.Mutex
	var claims []domain.Claim

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, cluster := range state.clusters {
		cluster := cluster
		g.Go(func() error {
			spans := spansForCluster(cluster, state.spans)
			clusterClaims, err := generator.Generate(gctx, cluster, spans)
			if err != nil {
				classified := perrors.Classify(gctx, string(domain.PhaseClaimGeneration), err)
				p.emit(gctx, domain.PhaseClaimGeneration, fmt.Sprintf("claim generation failed for cluster %s (%s): %v", cluster.ID, classified.Kind, classified))
				return nil
			}
			mu.Lock()
			claims = append(claims, clusterClaims...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("claim generation: %w", err)
	}

	if p.Graph != nil {
		for _, claim := range claims {
			if err := p.Graph.UpsertClaim(ctx, claim); err != nil {
				return fmt.Errorf("claim generation: persist claim %s: %w", claim.ClaimID, err)
			}
		}
	}

	state.claims = claims
	return nil
}

// spansForCluster collects the evidence spans belonging to papers in a
// cluster, since ClaimGenerator.Generate only grounds claims in spans it
// is explicitly handed.
func spansForCluster(cluster domain.Cluster, spans map[string]domain.EvidenceSpan) []domain.EvidenceSpan {
	inCluster := make(map[string]bool, len(cluster.PaperIDs))
	for _, id := range cluster.PaperIDs {
		inCluster[id] = true
	}
	var out []domain.EvidenceSpan
	for _, span := range spans {
		if inCluster[span.PaperID] {
			out = append(out, span)
		}
	}
	return out
}

// runGapMining exercises all three sources spec.md §4.6 names for
// gap_mining: limitation-tagged evidence, contradictory results across
// papers for the same taxonomy cell, and empty taxonomy cells.
func (p *Pipeline) runGapMining(ctx context.Context, _ Session, state *runState) error {
	state.matrix = buildTaxonomyMatrix(state.clusters, state.studyCards)

	miner := synthesis.NewGapMiner(p.LLM)
	limitationSpans := limitationSpans(state.spans)
	fromLimitations, err := miner.MineFromLimitations(ctx, limitationSpans)
	if err != nil {
		p.emit(ctx, domain.PhaseGapMining, fmt.Sprintf("limitation gap mining failed: %v", err))
	} else {
		state.directions = append(state.directions, fromLimitations...)
	}

	state.directions = append(state.directions, synthesis.MineFromContradictions(state.matrix, state.studyCards)...)
	state.directions = append(state.directions, synthesis.MineFromTaxonomy(state.matrix)...)
	return nil
}

// limitationSpans filters the plan-wide span set down to limitation-tagged
// entries, in deterministic paper/span-id order.
func limitationSpans(spans map[string]domain.EvidenceSpan) []domain.EvidenceSpan {
	var out []domain.EvidenceSpan
	for _, span := range spans {
		if span.Field == domain.FieldLimitation {
			out = append(out, span)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpanID < out[j].SpanID })
	return out
}

// buildTaxonomyMatrix derives the (theme, dataset, metric) grid from each
// cluster's name (the theme axis) and the datasets/metrics its member
// papers' StudyCards report — the taxonomy gap_mining reads holes out of.
func buildTaxonomyMatrix(clusters []domain.Cluster, cards map[string]domain.StudyCard) domain.TaxonomyMatrix {
	matrix := domain.TaxonomyMatrix{Cells: make(map[domain.TaxonomyCellKey][]string)}
	datasetSeen := make(map[string]bool)
	metricSeen := make(map[string]bool)
	methodSeen := make(map[string]bool)

	for _, cluster := range clusters {
		matrix.Themes = append(matrix.Themes, cluster.Name)
		for _, paperID := range cluster.PaperIDs {
			card, ok := cards[paperID]
			if !ok {
				continue
			}
			if card.Method != "" && !methodSeen[card.Method] {
				methodSeen[card.Method] = true
				matrix.MethodFamilies = append(matrix.MethodFamilies, card.Method)
			}
			for _, dataset := range card.Datasets {
				if !datasetSeen[dataset] {
					datasetSeen[dataset] = true
					matrix.Datasets = append(matrix.Datasets, dataset)
				}
				for _, metric := range card.Metrics {
					if !metricSeen[metric] {
						metricSeen[metric] = true
						matrix.Metrics = append(matrix.Metrics, metric)
					}
					key := domain.TaxonomyCellKey{Theme: cluster.Name, Dataset: dataset, Metric: metric}
					matrix.Cells[key] = append(matrix.Cells[key], paperID)
				}
			}
		}
	}
	return matrix
}

func (p *Pipeline) runWriting(ctx context.Context, sess Session, state *runState) error {
	_ = ctx
	writer := synthesis.NewGroundedWriter()
	state.report = writer.Write(synthesis.WriteInput{
		Topic:       state.plan.Topic,
		PlanID:      sess.SessionID,
		SessionID:   sess.SessionID,
		Papers:      state.papers,
		Clusters:    state.clusters,
		Claims:      state.claims,
		Spans:       state.spans,
		Matrix:      state.matrix,
		Directions:  state.directions,
		CitationRes: state.auditResult,
	})
	return nil
}

func (p *Pipeline) runCitationAudit(ctx context.Context, state *runState) error {
	auditor := synthesis.NewCitationAuditor(p.LLM)
	auditor.Limit = p.MaxParallelAudit
	result, results := auditor.Audit(ctx, state.claims, state.spans)
	state.auditResult = result
	state.claims = synthesis.PassingClaims(results)
	return nil
}

func (p *Pipeline) runPublish(ctx context.Context, sess Session, state *runState) error {
	if p.Store == nil {
		return fmt.Errorf("publish phase requires a configured store")
	}
	state.report.SessionID = sess.SessionID
	return p.Store.SaveReport(ctx, state.report)
}

func (p *Pipeline) phaseCompleted(ctx context.Context, sessionID string, phase domain.PhaseName) (bool, error) {
	var cp Checkpoint
	found, err := kv.GetJSON(ctx, p.KV, kv.CheckpointKey(sessionID, string(phase)), &cp)
	if err != nil {
		return false, fmt.Errorf("pipeline: read checkpoint: %w", err)
	}
	return found && cp.Completed, nil
}

func (p *Pipeline) checkpoint(ctx context.Context, sessionID string, phase domain.PhaseName) error {
	cp := Checkpoint{Phase: phase, Completed: true}
	if err := kv.PutJSON(ctx, p.KV, kv.CheckpointKey(sessionID, string(phase)), cp, checkpointTTL); err != nil {
		return fmt.Errorf("pipeline: write checkpoint: %w", err)
	}
	return nil
}

func (p *Pipeline) emit(ctx context.Context, phase domain.PhaseName, message string) {
	if p.Progress == nil {
		return
	}
	p.Progress(ctx, string(phase), message, nil)
}
