// Package executor implements the Plan Executor: runs plan steps in order,
// enforces caching, deduplicates against a plan-wide registry, and
// surfaces per-step and aggregate progress (spec.md §4.6).
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"scholarpilot.dev/core/internal/cache"
	"scholarpilot.dev/core/internal/dedup"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/perrors"
	"scholarpilot.dev/core/internal/tools"
)

// FuzzyIndexFactory builds a plan-scoped external title index for the
// Deduplicator's fuzzy level. Nil (the default) keeps the in-process LCS
// scan; the factory failing degrades the same way.
type FuzzyIndexFactory func(ctx context.Context, planID string) (dedup.TitleIndex, error)

// Executor runs a single ResearchPlan's tool-bound steps.
type Executor struct {
	registry     *tools.Registry
	cache        *cache.Cache
	fuzzyFactory FuzzyIndexFactory
}

func New(registry *tools.Registry, c *cache.Cache) *Executor {
	return &Executor{registry: registry, cache: c}
}

// WithFuzzyIndex makes every plan run build its Deduplicator over a
// plan-scoped external title index instead of the in-process scan.
func (e *Executor) WithFuzzyIndex(factory FuzzyIndexFactory) *Executor {
	e.fuzzyFactory = factory
	return e
}

// Result is what Run returns: the deduplicated paper registry plus
// per-step and aggregate metrics.
type Result struct {
	Papers     []domain.Paper
	StepMetrics []domain.StepMetrics
	Aggregate  domain.ProgressAggregate
}

// Run executes plan in step-id order. Steps with action analyze/synthesize
// and no tool binding are skipped (handled by downstream phases); a single
// step failing does not abort the plan.
func (e *Executor) Run(ctx context.Context, plan *domain.ResearchPlan, planID string, onStep domain.ProgressCallback) (Result, error) {
	dedupe := e.newDeduplicator(ctx, planID)
	var papers []domain.Paper
	var stepMetrics []domain.StepMetrics
	aggregate := domain.ProgressAggregate{RelevanceBands: map[domain.RelevanceBand]int{}}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if !step.HasToolBinding() {
			continue
		}

		start := time.Now()
		results, cacheHit, err := e.callTool(ctx, step.ToolName, step.ToolArgs)
		duration := time.Since(start).Seconds()

		metrics := domain.StepMetrics{
			StepID:   step.ID,
			ToolName: step.ToolName,
			Duration: duration,
			CacheHit: cacheHit,
		}

		if err != nil {
			classified := perrors.Classify(ctx, "execution", err)
			metrics.Failed = true
			metrics.Error = err.Error()
			slog.ErrorContext(ctx, "plan executor: step failed",
				"step_id", step.ID, "tool", step.ToolName, "error", err, "error_kind", classified.Kind)
			aggregate.FailedSteps++
			stepMetrics = append(stepMetrics, metrics)
			if onStep != nil {
				onStep(ctx, "execution", fmt.Sprintf("step %d failed: %v", step.ID, err), map[string]any{"step_id": step.ID})
			}
			continue
		}

		uniqueCount := 0
		duplicates := 0
		for _, pr := range results {
			paper := pr.ToPaper()
			paper.PlanID = planID
			paper.StepID = step.ID
			if dedupe.AddContext(ctx, paper) {
				papers = append(papers, paper)
				uniqueCount++
			} else {
				duplicates++
			}
		}

		metrics.UniqueCount = uniqueCount
		metrics.DuplicatesRemoved = duplicates
		step.Completed = true
		aggregate.CompletedSteps++
		aggregate.TotalCollected += len(results)
		aggregate.TotalUnique += uniqueCount
		aggregate.TotalDuplicates += duplicates
		aggregate.TotalDuration += duration
		if cacheHit {
			aggregate.CacheHits++
		} else {
			aggregate.CacheMisses++
		}

		stepMetrics = append(stepMetrics, metrics)

		if onStep != nil {
			onStep(ctx, "execution", fmt.Sprintf("step %d collected %d unique papers", step.ID, uniqueCount), map[string]any{
				"papers":     len(results),
				"unique":     uniqueCount,
				"duplicates": duplicates,
				"step_id":    step.ID,
			})
		}
	}

	return Result{Papers: papers, StepMetrics: stepMetrics, Aggregate: aggregate}, nil
}

// newDeduplicator builds the plan-scoped deduplicator, over the external
// fuzzy-title index when one is configured and reachable.
func (e *Executor) newDeduplicator(ctx context.Context, planID string) *dedup.Deduplicator {
	if e.fuzzyFactory == nil {
		return dedup.New()
	}
	idx, err := e.fuzzyFactory(ctx, planID)
	if err != nil {
		slog.WarnContext(ctx, "plan executor: fuzzy index unavailable, using in-process dedup", "error", err)
		return dedup.New()
	}
	return dedup.NewWithIndex(idx)
}

// callTool consults the Cache Layer before invoking the Registry, and
// normalizes the tool's result shape ([]PaperResult, *PaperResult, or any
// other JSON-roundtrippable value) to a flat []PaperResult.
func (e *Executor) callTool(ctx context.Context, name string, args map[string]any) ([]tools.PaperResult, bool, error) {
	var raw json.RawMessage
	cacheHit, err := e.cache.GetOrCall(ctx, name, args, &raw, func() (any, error) {
		return e.registry.ExecuteTool(ctx, name, args)
	})
	if err != nil {
		return nil, false, err
	}
	results, err := normalizePaperResults(raw)
	return results, cacheHit, err
}

// normalizePaperResults decodes a tool's cached JSON payload into a flat
// paper-result list, tolerating both single-object and array shapes.
func normalizePaperResults(raw json.RawMessage) ([]tools.PaperResult, error) {
	var list []tools.PaperResult
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var single tools.PaperResult
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}
	if single.Title == "" {
		return nil, nil
	}
	return []tools.PaperResult{single}, nil
}
