package store

import (
	"context"
	"fmt"
	"time"

	"scholarpilot.dev/core/internal/domain"
)

// SaveEpisode durably records a completed research session. Episodic
// memory (internal/memory) keeps its own TTL-bounded copy in the KV store
// and does not fall back to this table.
func (s *Store) SaveEpisode(ctx context.Context, ep domain.ResearchEpisode) error {
	const query = `
		INSERT INTO research_episodes (
			episode_id, user_id, topic, original_query, refined_query,
			papers_found, papers_relevant, papers_high_relevance, cluster_count,
			outcome, duration_ms, sources_used, effective_keywords,
			ineffective_keywords, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (episode_id) DO UPDATE SET
			papers_found = EXCLUDED.papers_found,
			papers_relevant = EXCLUDED.papers_relevant,
			papers_high_relevance = EXCLUDED.papers_high_relevance,
			cluster_count = EXCLUDED.cluster_count,
			outcome = EXCLUDED.outcome,
			duration_ms = EXCLUDED.duration_ms
	`
	createdAt := ep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		ep.EpisodeID, ep.UserID, ep.Topic, ep.OriginalQuery, ep.RefinedQuery,
		ep.PapersFound, ep.PapersRelevant, ep.PapersHighRelevance, ep.ClusterCount,
		string(ep.Outcome), ep.Duration.Milliseconds(), ep.SourcesUsed,
		ep.EffectiveKeywords, ep.IneffectiveKeywords, createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: save episode: %w", err)
	}
	return nil
}

// EpisodesByUser returns a user's episodes newest-first, bounded by limit.
func (s *Store) EpisodesByUser(ctx context.Context, userID string, limit int) ([]domain.ResearchEpisode, error) {
	const query = `
		SELECT episode_id, user_id, topic, original_query, refined_query,
			papers_found, papers_relevant, papers_high_relevance, cluster_count,
			outcome, duration_ms, sources_used, effective_keywords,
			ineffective_keywords, created_at
		FROM research_episodes WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: episodes by user: %w", err)
	}
	defer rows.Close()

	var episodes []domain.ResearchEpisode
	for rows.Next() {
		var ep domain.ResearchEpisode
		var outcome string
		var durationMS int64
		if err := rows.Scan(
			&ep.EpisodeID, &ep.UserID, &ep.Topic, &ep.OriginalQuery, &ep.RefinedQuery,
			&ep.PapersFound, &ep.PapersRelevant, &ep.PapersHighRelevance, &ep.ClusterCount,
			&outcome, &durationMS, &ep.SourcesUsed, &ep.EffectiveKeywords,
			&ep.IneffectiveKeywords, &ep.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		ep.Outcome = domain.EpisodeOutcome(outcome)
		ep.Duration = time.Duration(durationMS) * time.Millisecond
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}
