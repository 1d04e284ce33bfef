// Package planner converts a ResearchRequest into an ordered ResearchPlan
// (spec.md §4.3), asking the LLM for a tool-bound step sequence and then
// injecting user-supplied URLs, keywords, and questions deterministically.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/tools"
)

// Planner builds ResearchPlans from ResearchRequests.
type Planner struct {
	client   llm.Client
	registry *tools.Registry
}

func New(client llm.Client, registry *tools.Registry) *Planner {
	return &Planner{client: client, registry: registry}
}

const plannerSystemPrompt = `You are a research planning assistant. Given a topic and a set of
available tools, produce a JSON plan of 5 to 7 ordered steps that collects and
synthesizes literature on the topic. Every step with action "research" or
"collect" must be bound to one of the available tools via tool_name and
tool_args. Steps with action "analyze" or "synthesize" need no tool binding.`

type llmStep struct {
	Action      string         `json:"action"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Queries     []string       `json:"queries"`
	SourceURLs  []string       `json:"source_urls"`
	ToolName    string         `json:"tool_name"`
	ToolArgs    map[string]any `json:"tool_args"`
}

type llmPlan struct {
	Summary string    `json:"summary"`
	Steps   []llmStep `json:"steps"`
}

// Plan converts a ResearchRequest into a ResearchPlan: an LLM-authored
// step sequence (or a deterministic fallback on LLM failure), followed by
// injection of user data and renumbering to the contiguous-id invariant.
func (p *Planner) Plan(ctx context.Context, req domain.ResearchRequest) (domain.ResearchPlan, error) {
	plan, err := p.llmPlan(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "planner: llm plan failed, using fallback", "error", err)
		plan = fallbackPlan(req)
	}

	injectUserData(&plan, req)
	plan.Renumber()
	return plan, nil
}

func (p *Planner) llmPlan(ctx context.Context, req domain.ResearchRequest) (domain.ResearchPlan, error) {
	if p.client == nil {
		return domain.ResearchPlan{}, fmt.Errorf("no llm client configured")
	}

	prompt := p.buildPrompt(req)

	var resp llmPlan
	_, err := p.client.Chat(ctx, llm.Request{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "research_plan",
		Schema:       llm.GenerateSchema[llmPlan](),
		Temperature:  llm.Temp(0.2),
		MaxTokens:    2000,
	}, &resp)
	if err != nil {
		return domain.ResearchPlan{}, fmt.Errorf("llm plan generation: %w", err)
	}
	if len(resp.Steps) == 0 {
		return domain.ResearchPlan{}, fmt.Errorf("llm returned zero steps")
	}

	steps := make([]domain.ResearchStep, 0, len(resp.Steps))
	for i, s := range resp.Steps {
		action := domain.StepAction(s.Action)
		step := domain.ResearchStep{
			ID:          i + 1,
			Action:      action,
			Title:       s.Title,
			Description: s.Description,
			Queries:     s.Queries,
			SourceURLs:  s.SourceURLs,
			ToolName:    s.ToolName,
			ToolArgs:    s.ToolArgs,
		}
		if step.ToolName == "" && (action == domain.ActionAnalyze || action == domain.ActionSynthesize) {
			step.SynthesisOnly = true
		}
		steps = append(steps, step)
	}

	return domain.ResearchPlan{
		Topic:      req.Topic,
		Summary:    resp.Summary,
		Steps:      steps,
		OutputLang: req.OutputLang,
	}, nil
}

func (p *Planner) buildPrompt(req domain.ResearchRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	if len(req.SeedKeywords) > 0 {
		fmt.Fprintf(&b, "Seed keywords: %s\n", strings.Join(req.SeedKeywords, ", "))
	}
	if len(req.Questions) > 0 {
		fmt.Fprintf(&b, "Research questions:\n")
		for _, q := range req.Questions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if len(req.SourceURLs) > 0 {
		fmt.Fprintf(&b, "User-supplied source URLs: %s\n", strings.Join(req.SourceURLs, ", "))
	}
	if req.TimeWindow != nil {
		fmt.Fprintf(&b, "Time window: from=%v to=%v\n", req.TimeWindow.From, req.TimeWindow.To)
	}
	if req.MaxPapers > 0 {
		fmt.Fprintf(&b, "Max papers: %d\n", req.MaxPapers)
	}

	if p.registry != nil {
		b.WriteString("Available tools:\n")
		for _, def := range p.registry.ListTools("") {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		}
	}
	return b.String()
}

// fallbackPlan produces the deterministic collect → research → analyze →
// synthesize plan used when the LLM call fails.
func fallbackPlan(req domain.ResearchRequest) domain.ResearchPlan {
	var steps []domain.ResearchStep

	if len(req.SourceURLs) > 0 {
		steps = append(steps, domain.ResearchStep{
			Action:      domain.ActionCollect,
			Title:       "Collect user-supplied sources",
			Description: "Resolve user-provided URLs into paper records",
			SourceURLs:  req.SourceURLs,
			ToolName:    "collect_urls",
			ToolArgs:    map[string]any{"urls": req.SourceURLs},
		})
	}

	queries := append([]string{}, req.SeedKeywords...)
	if len(queries) == 0 {
		queries = []string{req.Topic}
	}
	steps = append(steps, domain.ResearchStep{
		Action:      domain.ActionResearch,
		Title:       "Search for relevant papers",
		Description: fmt.Sprintf("Search multiple sources for papers on %q", req.Topic),
		Queries:     queries,
		ToolName:    "search",
		ToolArgs:    map[string]any{"query": req.Topic},
	})

	steps = append(steps,
		domain.ResearchStep{
			Action:      domain.ActionAnalyze,
			Title:       "Analyze collected papers",
			Description: "Screen and score collected papers for relevance",
			SynthesisOnly: true,
		},
		domain.ResearchStep{
			Action:      domain.ActionSynthesize,
			Title:       "Synthesize findings",
			Description: "Produce a grounded synthesis report",
			SynthesisOnly: true,
		},
	)

	return domain.ResearchPlan{
		Topic:      req.Topic,
		Summary:    fmt.Sprintf("Fallback plan for %q", req.Topic),
		Steps:      steps,
		OutputLang: req.OutputLang,
	}
}

// injectUserData prepends a URL-collection step if user URLs are present
// and not already covered by a collect step, prepends user keywords into
// the first research step's queries, and appends a "answer research
// questions" step when questions are non-empty and not already covered.
func injectUserData(plan *domain.ResearchPlan, req domain.ResearchRequest) {
	if len(req.SourceURLs) > 0 && !hasCollectStep(plan.Steps) {
		collectStep := domain.ResearchStep{
			Action:      domain.ActionCollect,
			Title:       "Collect user-supplied sources",
			Description: "Resolve user-provided URLs into paper records",
			SourceURLs:  req.SourceURLs,
			ToolName:    "collect_urls",
			ToolArgs:    map[string]any{"urls": req.SourceURLs},
		}
		plan.Steps = append([]domain.ResearchStep{collectStep}, plan.Steps...)
	}

	if len(req.SeedKeywords) > 0 {
		for i := range plan.Steps {
			if plan.Steps[i].Action == domain.ActionResearch {
				plan.Steps[i].Queries = prependMissing(req.SeedKeywords, plan.Steps[i].Queries)
				break
			}
		}
	}

	if len(req.Questions) > 0 && !hasQuestionsStep(plan.Steps) {
		plan.Steps = append(plan.Steps, domain.ResearchStep{
			Action:        domain.ActionSynthesize,
			Title:         "Answer research questions",
			Description:   "Address the user's explicit research questions using the collected evidence",
			Queries:       req.Questions,
			SynthesisOnly: true,
		})
	}
}

func hasCollectStep(steps []domain.ResearchStep) bool {
	for _, s := range steps {
		if s.Action == domain.ActionCollect {
			return true
		}
	}
	return false
}

func hasQuestionsStep(steps []domain.ResearchStep) bool {
	for _, s := range steps {
		if strings.Contains(strings.ToLower(s.Title), "question") {
			return true
		}
	}
	return false
}

func prependMissing(prepend, existing []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[strings.ToLower(e)] = true
	}
	out := make([]string, 0, len(prepend)+len(existing))
	for _, p := range prepend {
		if !seen[strings.ToLower(p)] {
			out = append(out, p)
			seen[strings.ToLower(p)] = true
		}
	}
	out = append(out, existing...)
	return out
}
