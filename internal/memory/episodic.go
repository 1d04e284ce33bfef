package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

// Episodic stores ResearchEpisodes and serves "find similar past session"
// lookups by keyword overlap over topic words.
type Episodic struct {
	store kv.Store
}

func NewEpisodic(store kv.Store) *Episodic {
	return &Episodic{store: store}
}

// Record writes the episode and pushes its id onto the user's most-recent
// list, trimmed to the retention limit.
func (e *Episodic) Record(ctx context.Context, ep domain.ResearchEpisode) error {
	if err := kv.PutJSON(ctx, e.store, kv.EpisodeKey(ep.EpisodeID), ep, domain.EpisodeTTL); err != nil {
		return fmt.Errorf("storing episode %s: %w", ep.EpisodeID, err)
	}

	listKey := kv.EpisodicListKey(ep.UserID)
	if err := e.store.LPush(ctx, listKey, ep.EpisodeID); err != nil {
		return fmt.Errorf("pushing episode id onto list %s: %w", listKey, err)
	}
	if err := e.store.LTrim(ctx, listKey, 0, domain.EpisodicListLimit-1); err != nil {
		return fmt.Errorf("trimming episode list %s: %w", listKey, err)
	}
	if err := e.store.Expire(ctx, listKey, domain.EpisodeTTL); err != nil {
		return fmt.Errorf("setting episode list ttl %s: %w", listKey, err)
	}
	return nil
}

// Recent returns the user's episodes, most recent first.
func (e *Episodic) Recent(ctx context.Context, userID string) ([]domain.ResearchEpisode, error) {
	ids, err := e.store.LRange(ctx, kv.EpisodicListKey(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("listing episode ids for %s: %w", userID, err)
	}

	episodes := make([]domain.ResearchEpisode, 0, len(ids))
	for _, id := range ids {
		var ep domain.ResearchEpisode
		found, err := kv.GetJSON(ctx, e.store, kv.EpisodeKey(id), &ep)
		if err != nil {
			return nil, fmt.Errorf("loading episode %s: %w", id, err)
		}
		if found {
			episodes = append(episodes, ep)
		}
	}
	return episodes, nil
}

// topicWords lowercases and splits a topic into a set of significant words.
func topicWords(topic string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		if len(w) >= 3 {
			words[w] = true
		}
	}
	return words
}

// overlap counts shared words between two word sets.
func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// FindSimilar ranks the user's past episodes by topic-word overlap against
// the given topic, returning the top-K episodes with overlap ≥ 1.
func (e *Episodic) FindSimilar(ctx context.Context, userID, topic string, topK int) ([]domain.ResearchEpisode, error) {
	all, err := e.Recent(ctx, userID)
	if err != nil {
		return nil, err
	}

	target := topicWords(topic)

	type scored struct {
		episode domain.ResearchEpisode
		score   int
	}
	var candidates []scored
	for _, ep := range all {
		score := overlap(target, topicWords(ep.Topic))
		if score >= 1 {
			candidates = append(candidates, scored{episode: ep, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	result := make([]domain.ResearchEpisode, topK)
	for i := 0; i < topK; i++ {
		result[i] = candidates[i].episode
	}
	return result, nil
}
