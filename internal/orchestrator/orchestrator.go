// Package orchestrator implements the Dialogue Orchestrator: the
// deterministic state machine over a long-lived conversation that fuses
// user turns, memory, clarification, plan approval, and execution control
// (spec.md §4.1). It is the only writer of Conversation state; the Research
// Pipeline it drives runs on a background goroutine per conversation,
// fanning progress out to whatever transport (SSE/WebSocket/CLI) attached a
// listener, and is cancellable through a token scoped to that goroutine.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/common/logger"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/memory"
	"scholarpilot.dev/core/internal/pipeline"
	"scholarpilot.dev/core/internal/planner"
	"scholarpilot.dev/core/internal/query"
)

// PipelineRunner is the subset of *pipeline.Pipeline the Orchestrator
// drives; tests substitute a fake so the state machine can be exercised
// without a real Executor/Store/Graph wiring.
type PipelineRunner interface {
	Run(ctx context.Context, sess pipeline.Session) (domain.Report, error)
}

// Orchestrator owns every Conversation's state machine. A single instance
// is process-wide, like the Tool Registry and Cache; per-conversation state
// lives in Memory.Working, with in-process bookkeeping here limited to
// cancellation tokens and progress listeners for runs currently executing.
type Orchestrator struct {
	Memory    *memory.Fabric
	Parser    *query.Parser
	Clarifier *query.Clarifier
	Planner   *planner.AdaptivePlanner
	Pipeline  PipelineRunner
	LLM       llm.Client

	mu            sync.Mutex
	cancelers     map[string]context.CancelFunc
	listeners     map[string][]domain.ProgressCallback
	sessionToConv map[string]string
}

func New(mem *memory.Fabric, parser *query.Parser, clarifier *query.Clarifier, adaptivePlanner *planner.AdaptivePlanner, runner PipelineRunner, client llm.Client) *Orchestrator {
	return &Orchestrator{
		Memory:    mem,
		Parser:    parser,
		Clarifier: clarifier,
		Planner:   adaptivePlanner,
		Pipeline:  runner,
		LLM:       client,
		cancelers:     make(map[string]context.CancelFunc),
		listeners:     make(map[string][]domain.ProgressCallback),
		sessionToConv: make(map[string]string),
	}
}

// ProgressCallback returns a domain.ProgressCallback suitable for wiring
// into a shared *pipeline.Pipeline's Progress field. Since one Pipeline
// instance serves every conversation's run, routing is keyed off the
// session id carried in ctx's log fields (set by runPipeline) rather than
// a parameter, matching the ProgressCallback contract fixed by spec.md §6.
func (o *Orchestrator) ProgressCallback() domain.ProgressCallback {
	return func(ctx context.Context, phase, message string, data map[string]any) {
		sessionID := logger.GetLogFields(ctx).SessionID
		if sessionID == nil {
			return
		}
		o.mu.Lock()
		conversationID, ok := o.sessionToConv[*sessionID]
		o.mu.Unlock()
		if !ok {
			return
		}
		o.fanOut(conversationID, phase, message, data)
	}
}

// Attach registers a progress listener for a conversation's running
// pipeline (an SSE stream, a WebSocket connection, a CLI renderer). It is a
// no-op to attach before execution starts; the listener simply receives
// nothing until a run begins.
func (o *Orchestrator) Attach(conversationID string, cb domain.ProgressCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners[conversationID] = append(o.listeners[conversationID], cb)
}

// Detach removes every listener registered for a conversation.
func (o *Orchestrator) Detach(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.listeners, conversationID)
}

// Cancel cancels a conversation's in-flight pipeline run, if any
// (spec.md §4.1: "Cancellation of the conversation cancels the running
// pipeline").
func (o *Orchestrator) Cancel(conversationID string) {
	o.mu.Lock()
	cancel, ok := o.cancelers[conversationID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) isRunning(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelers[conversationID]
	return ok
}

func (o *Orchestrator) fanOut(conversationID, phase, message string, data map[string]any) {
	o.mu.Lock()
	cbs := append([]domain.ProgressCallback{}, o.listeners[conversationID]...)
	o.mu.Unlock()
	for _, cb := range cbs {
		cb(context.Background(), phase, message, data)
	}
}

// HandleTurn is the Orchestrator's single entry point: fuse a raw user
// message into the named conversation's state machine and return the
// assistant's reply. Every transition it can make is one of those
// enumerated in spec.md §4.1.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, conversationID, text string) (string, error) {
	conv, err := o.loadOrCreate(ctx, userID, conversationID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: load conversation: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(conv.ID),
		UserID:         logger.Ptr(userID),
		Component:      "orchestrator",
	})

	// URL extraction runs unconditionally on every turn, regardless of
	// intent or state (spec.md §4.1).
	urls := query.ExtractURLs(text)
	conv.PendingURLs = query.MergeURLs(conv.PendingURLs, urls)

	if lang := query.DetectLanguage(text); lang != "en" || conv.Language == "" {
		conv.Language = lang
	}

	conv.AppendMessage(domain.Message{Role: domain.RoleUser, Content: text, Timestamp: time.Now()})

	if conv.State == domain.StateExecuting && o.isRunning(conv.ID) {
		reply := stillWorkingMessage(conv.Language)
		o.recordAssistantReply(conv, reply)
		if saveErr := o.Memory.Working.Put(ctx, conv); saveErr != nil {
			return reply, fmt.Errorf("orchestrator: persist conversation: %w", saveErr)
		}
		return reply, nil
	}

	intent := ClassifyIntent(ctx, o.LLM, conv.State, text)
	slog.DebugContext(ctx, "orchestrator: classified turn", "state", conv.State, "intent", intent)

	var reply string
	switch conv.State {
	case domain.StateClarifying:
		reply, err = o.handleClarifying(ctx, conv, userID, text, intent)
	case domain.StateReviewing, domain.StateEditing:
		reply, err = o.handleReviewing(ctx, conv, userID, text, intent)
	default: // IDLE, COMPLETE, ERROR all resolve the same way per §4.1
		reply, err = o.handleIdle(ctx, conv, userID, text, intent)
	}
	if err != nil {
		conv.State = domain.StateError
		conv.ResultSummary = err.Error()
		reply = failedMessage(conv.Language)
		slog.ErrorContext(ctx, "orchestrator: turn handling failed", "error", err)
	}

	o.recordAssistantReply(conv, reply)
	if saveErr := o.Memory.Working.Put(ctx, conv); saveErr != nil {
		return reply, fmt.Errorf("orchestrator: persist conversation: %w", saveErr)
	}
	return reply, nil
}

func (o *Orchestrator) recordAssistantReply(conv *domain.Conversation, reply string) {
	conv.AppendMessage(domain.Message{Role: domain.RoleAssistant, Content: reply, Timestamp: time.Now()})
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	if conversationID != "" {
		conv, err := o.Memory.Working.Get(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}
	id := conversationID
	if id == "" {
		id = uuid.NewString()
	}
	return &domain.Conversation{
		ID:       id,
		UserID:   userID,
		State:    domain.StateIdle,
		Language: "en",
	}, nil
}

// handleIdle covers IDLE, COMPLETE, and ERROR: a CHAT turn gets a
// conversational reply and the state stays/returns IDLE; everything else
// (an explicit NEW_TOPIC, or any other classified intent, since there is
// no pending plan or clarification to apply it to) starts a fresh research
// round (spec.md §4.1: "IDLE → user-turn classified NEW_TOPIC or long
// OTHER → CLARIFYING or PLANNING").
func (o *Orchestrator) handleIdle(ctx context.Context, conv *domain.Conversation, userID, text string, intent Intent) (string, error) {
	if intent == IntentChat {
		conv.State = domain.StateIdle
		return chatReply(conv.Language), nil
	}
	return o.startNewTopic(ctx, conv, userID, text)
}

// startNewTopic runs the Query Analyzer over a fresh topic and either
// enters CLARIFYING or goes straight to PLANNING → REVIEWING, per memory's
// skip-clarification rule.
func (o *Orchestrator) startNewTopic(ctx context.Context, conv *domain.Conversation, userID, text string) (string, error) {
	conv.CurrentTopic = text
	conv.PendingClarification = nil
	conv.PendingPlan = nil
	conv.PendingQueryInfo = nil
	conv.PendingPhaseConfig = nil

	skip, err := o.Memory.ShouldSkipClarification(ctx, userID, text)
	if err != nil {
		return "", fmt.Errorf("checking skip-clarification: %w", err)
	}

	if !skip && query.NeedsClarification(text) {
		pc := o.Clarifier.Clarify(ctx, text, conv.Language)
		conv.PendingClarification = &pc
		conv.State = domain.StateClarifying

		memCtx, memErr := o.Memory.Context(ctx, userID, text)
		var hints []string
		if memErr == nil {
			hints = memCtx.SimilarSessionSummaries
		}
		return clarificationMessage(pc, hints), nil
	}

	return o.buildPlan(ctx, conv, userID, text)
}

// buildPlan runs the Planner (via the AdaptivePlanner, which also resolves
// QUICK/FULL routing) over topic and transitions PLANNING → REVIEWING on
// success, or → ERROR on failure (spec.md §4.1).
func (o *Orchestrator) buildPlan(ctx context.Context, conv *domain.Conversation, userID, topic string) (string, error) {
	conv.State = domain.StatePlanning

	req := domain.ResearchRequest{
		Topic:      topic,
		SourceURLs: conv.PendingURLs,
		OutputLang: conv.Language,
	}

	memCtx, err := o.Memory.Context(ctx, userID, topic)
	if err == nil {
		if len(memCtx.PreferredSources) > 0 {
			req.SeedKeywords = append(req.SeedKeywords, memCtx.EffectiveKeywords...)
		}
		if memCtx.MaxPapers > 0 {
			req.MaxPapers = memCtx.MaxPapers
		}
	}

	adaptive, err := o.Planner.Build(ctx, req)
	if err != nil {
		return "", fmt.Errorf("building plan: %w", err)
	}

	conv.CurrentTopic = topic
	conv.PendingPlan = &adaptive.Plan
	conv.PendingQueryInfo = &adaptive.QueryInfo
	conv.PendingPhaseConfig = &adaptive.PhaseConfig
	conv.State = domain.StateReviewing

	return planMessage(adaptive.Plan, conv.Language), nil
}

// handleClarifying implements the CLARIFYING row of §4.1's transition
// table: CONFIRM proceeds with the current understanding, CANCEL discards
// it, and any other text is folded into the topic as the clarification
// answer before planning.
func (o *Orchestrator) handleClarifying(ctx context.Context, conv *domain.Conversation, userID, text string, intent Intent) (string, error) {
	pc := conv.PendingClarification
	if pc == nil {
		return o.startNewTopic(ctx, conv, userID, text)
	}

	switch intent {
	case IntentCancel:
		conv.PendingClarification = nil
		conv.State = domain.StateIdle
		return clarificationCanceledMessage(conv.Language), nil
	case IntentConfirm:
		conv.PendingClarification = nil
		return o.buildPlan(ctx, conv, userID, pc.OriginalQuery)
	default:
		topic := fmt.Sprintf("%s (%s)", pc.OriginalQuery, text)
		conv.PendingClarification = nil
		return o.buildPlan(ctx, conv, userID, topic)
	}
}

// handleReviewing implements the REVIEWING row of §4.1's transition table:
// CONFIRM starts execution, CANCEL discards the plan, EDIT mutates it in
// place and stays REVIEWING, NEW_TOPIC discards it and restarts analysis,
// anything else just re-displays the plan.
func (o *Orchestrator) handleReviewing(ctx context.Context, conv *domain.Conversation, userID, text string, intent Intent) (string, error) {
	if conv.PendingPlan == nil {
		return o.startNewTopic(ctx, conv, userID, text)
	}

	switch intent {
	case IntentConfirm:
		return o.confirmAndExecute(conv, userID)
	case IntentCancel:
		conv.PendingPlan = nil
		conv.PendingQueryInfo = nil
		conv.PendingPhaseConfig = nil
		conv.State = domain.StateIdle
		return planCanceledMessage(conv.Language), nil
	case IntentEdit:
		if directive, ok := ParseEditDirective(text); ok {
			ApplyEdit(conv.PendingPlan, directive)
		}
		conv.State = domain.StateReviewing
		return planMessage(*conv.PendingPlan, conv.Language), nil
	case IntentNewTopic:
		return o.startNewTopic(ctx, conv, userID, text)
	default:
		conv.State = domain.StateReviewing
		return planMessage(*conv.PendingPlan, conv.Language), nil
	}
}

// confirmAndExecute is the execution bridge (spec.md §4.1): it hands the
// reviewed (possibly edited) plan and a cancellable context to the
// Pipeline on a background goroutine, fanning progress out to any attached
// listener, and returns immediately with an acknowledgement so the caller
// is never blocked on a multi-minute run.
func (o *Orchestrator) confirmAndExecute(conv *domain.Conversation, userID string) (string, error) {
	sessionID := conv.ResearchSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	conv.ResearchSessionID = sessionID
	conv.State = domain.StateExecuting

	adaptive := domain.AdaptivePlan{Plan: *conv.PendingPlan}
	if conv.PendingQueryInfo != nil {
		adaptive.QueryInfo = *conv.PendingQueryInfo
	}
	if conv.PendingPhaseConfig != nil {
		adaptive.PhaseConfig = *conv.PendingPhaseConfig
	}

	sess := pipeline.Session{
		SessionID: sessionID,
		UserID:    userID,
		Request: domain.ResearchRequest{
			Topic:      conv.CurrentTopic,
			SourceURLs: conv.PendingURLs,
			OutputLang: conv.Language,
		},
		PrebuiltPlan: &adaptive,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancelers[conv.ID] = cancel
	o.sessionToConv[sessionID] = conv.ID
	o.mu.Unlock()

	go o.runPipeline(runCtx, conv.ID, sess)

	return startedMessage(conv.Language), nil
}

// runPipeline drives one confirmed plan to completion on its own
// goroutine, recording the outcome as an episode and moving the
// conversation to COMPLETE or ERROR once the Pipeline returns (spec.md
// §4.1's failure semantics, §4.2's episode write-once-at-session-end rule).
func (o *Orchestrator) runPipeline(runCtx context.Context, conversationID string, sess pipeline.Session) {
	start := time.Now()
	ctx := logger.WithLogFields(context.Background(), logger.LogFields{
		ConversationID: logger.Ptr(conversationID),
		SessionID:      logger.Ptr(sess.SessionID),
		Component:      "orchestrator.execution",
	})

	report, err := o.Pipeline.Run(logger.WithLogFields(runCtx, logger.GetLogFields(ctx)), sess)

	o.mu.Lock()
	delete(o.cancelers, conversationID)
	delete(o.sessionToConv, sess.SessionID)
	o.mu.Unlock()

	conv, loadErr := o.Memory.Working.Get(ctx, conversationID)
	if loadErr != nil || conv == nil {
		slog.ErrorContext(ctx, "orchestrator: failed to reload conversation after run", "error", loadErr)
		return
	}

	outcome := domain.OutcomeSuccess
	switch {
	case runCtx.Err() == context.Canceled:
		outcome = domain.OutcomeAbandoned
		conv.State = domain.StateIdle
		conv.ResultSummary = "canceled"
	case err != nil:
		outcome = domain.OutcomeFailed
		conv.State = domain.StateError
		conv.ResultSummary = err.Error()
		o.fanOut(conversationID, "pipeline", failedMessage(conv.Language), nil)
	default:
		conv.State = domain.StateComplete
		conv.ResultSummary = completeMessage(conv.Language, 0, report.Markdown != "")
		o.fanOut(conversationID, "pipeline", conv.ResultSummary, nil)
	}

	episode := domain.ResearchEpisode{
		EpisodeID:     sess.SessionID,
		UserID:        sess.UserID,
		Topic:         conv.CurrentTopic,
		OriginalQuery: sess.Request.Topic,
		Outcome:       outcome,
		Duration:      time.Since(start),
		CreatedAt:     start,
	}
	if recErr := o.Memory.Episodic.Record(ctx, episode); recErr != nil {
		slog.WarnContext(ctx, "orchestrator: failed to record episode", "error", recErr)
	}
	if prefErr := o.Memory.Procedural.UpdateFromBehavior(ctx, sess.UserID, conv.CurrentTopic, conv.Language, "", 0); prefErr != nil {
		slog.WarnContext(ctx, "orchestrator: failed to update preferences", "error", prefErr)
	}

	if saveErr := o.Memory.Working.Put(ctx, conv); saveErr != nil {
		slog.ErrorContext(ctx, "orchestrator: failed to persist conversation after run", "error", saveErr)
	}
}
