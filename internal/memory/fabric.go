package memory

import (
	"context"
	"fmt"
	"sort"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

// Fabric is the single entry point the Orchestrator and Planner use to read
// and write memory, unifying Working/Episodic/Procedural the way the
// reference implementation's memory manager does by hand, but as one Go
// facade rather than three uncoordinated stores.
type Fabric struct {
	Working    *Working
	Episodic   *Episodic
	Procedural *Procedural
}

func NewFabric(store kv.Store) *Fabric {
	return &Fabric{
		Working:    NewWorking(store),
		Episodic:   NewEpisodic(store),
		Procedural: NewProcedural(store),
	}
}

// similarSessionLimit bounds how many past sessions feed MemoryContext and
// the clarification "from your history" hints.
const similarSessionLimit = 5

// Context builds the unified MemoryContext for a (user, topic) pair.
func (f *Fabric) Context(ctx context.Context, userID, topic string) (domain.MemoryContext, error) {
	prefs, err := f.Procedural.Get(ctx, userID)
	if err != nil {
		return domain.MemoryContext{}, fmt.Errorf("loading preferences: %w", err)
	}

	similar, err := f.Episodic.FindSimilar(ctx, userID, topic, similarSessionLimit)
	if err != nil {
		return domain.MemoryContext{}, fmt.Errorf("finding similar episodes: %w", err)
	}

	summaries := make([]string, 0, len(similar))
	sourceFreq := make(map[string]int)
	effective := make(map[string]bool)
	ineffective := make(map[string]bool)

	for _, ep := range similar {
		summaries = append(summaries, fmt.Sprintf("%s (%s, %d papers)", ep.Topic, ep.Outcome, ep.PapersFound))
		if ep.Outcome == domain.OutcomeSuccess || ep.Outcome == domain.OutcomePartial {
			for _, src := range ep.SourcesUsed {
				sourceFreq[src]++
			}
		}
		for _, kw := range ep.EffectiveKeywords {
			effective[kw] = true
		}
		for _, kw := range ep.IneffectiveKeywords {
			ineffective[kw] = true
		}
	}

	recommended := rankByFrequency(sourceFreq)

	return domain.MemoryContext{
		SimilarSessionSummaries: summaries,
		RecommendedSources:      recommended,
		EffectiveKeywords:       keys(effective),
		IneffectiveKeywords:     keys(ineffective),
		PreferredLanguage:       prefs.PreferredLanguage,
		PreferredSources:        prefs.PreferredSources,
		MinPapers:               prefs.MinPapers,
		MaxPapers:               prefs.MaxPapers,
		ExperienceLevel:         domain.ExperienceLevel(prefs.InteractionCount),
	}, nil
}

// ShouldSkipClarification reports whether the user can bypass the
// clarification round-trip: either they explicitly set the flag, or they
// are an expert with a prior successful session on a similar topic.
func (f *Fabric) ShouldSkipClarification(ctx context.Context, userID, topic string) (bool, error) {
	prefs, err := f.Procedural.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("loading preferences: %w", err)
	}
	if prefs.SkipClarification {
		return true, nil
	}

	if domain.ExperienceLevel(prefs.InteractionCount) != domain.ExperienceExpert {
		return false, nil
	}

	similar, err := f.Episodic.FindSimilar(ctx, userID, topic, similarSessionLimit)
	if err != nil {
		return false, fmt.Errorf("finding similar episodes: %w", err)
	}
	for _, ep := range similar {
		if ep.Outcome == domain.OutcomeSuccess {
			return true, nil
		}
	}
	return false, nil
}

func rankByFrequency(freq map[string]int) []string {
	type entry struct {
		source string
		count  int
	}
	entries := make([]entry, 0, len(freq))
	for src, count := range freq {
		entries = append(entries, entry{src, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].source < entries[j].source
	})

	result := make([]string, len(entries))
	for i, e := range entries {
		result[i] = e.source
	}
	return result
}

func keys(m map[string]bool) []string {
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
