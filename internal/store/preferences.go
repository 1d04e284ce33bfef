package store

import (
	"context"
	"fmt"

	"scholarpilot.dev/core/internal/domain"
)

// SavePreferences upserts a user's procedural-memory preferences.
func (s *Store) SavePreferences(ctx context.Context, prefs domain.UserPreferences) error {
	const query = `
		INSERT INTO user_preferences (
			user_id, preferred_language, preferred_sources, min_papers, max_papers,
			relevance_threshold, report_style, common_topics, favorite_keywords,
			skip_clarification, auto_approve_simple, interaction_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_language = EXCLUDED.preferred_language,
			preferred_sources = EXCLUDED.preferred_sources,
			min_papers = EXCLUDED.min_papers,
			max_papers = EXCLUDED.max_papers,
			relevance_threshold = EXCLUDED.relevance_threshold,
			report_style = EXCLUDED.report_style,
			common_topics = EXCLUDED.common_topics,
			favorite_keywords = EXCLUDED.favorite_keywords,
			skip_clarification = EXCLUDED.skip_clarification,
			auto_approve_simple = EXCLUDED.auto_approve_simple,
			interaction_count = EXCLUDED.interaction_count
	`
	_, err := s.pool.Exec(ctx, query,
		prefs.UserID, prefs.PreferredLanguage, prefs.PreferredSources, prefs.MinPapers,
		prefs.MaxPapers, prefs.RelevanceThreshold, prefs.ReportStyle, prefs.CommonTopics,
		prefs.FavoriteKeywords, prefs.SkipClarification, prefs.AutoApproveSimple,
		prefs.InteractionCount,
	)
	if err != nil {
		return fmt.Errorf("store: save preferences: %w", err)
	}
	return nil
}

// Preferences returns a user's preferences, or ErrNotFound if none exist
// (the caller falls back to procedural memory's zero-value default).
func (s *Store) Preferences(ctx context.Context, userID string) (domain.UserPreferences, error) {
	const query = `
		SELECT user_id, preferred_language, preferred_sources, min_papers, max_papers,
			relevance_threshold, report_style, common_topics, favorite_keywords,
			skip_clarification, auto_approve_simple, interaction_count
		FROM user_preferences WHERE user_id = $1
	`
	var p domain.UserPreferences
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.PreferredLanguage, &p.PreferredSources, &p.MinPapers, &p.MaxPapers,
		&p.RelevanceThreshold, &p.ReportStyle, &p.CommonTopics, &p.FavoriteKeywords,
		&p.SkipClarification, &p.AutoApproveSimple, &p.InteractionCount,
	)
	if err != nil {
		if noRows(err) {
			return domain.UserPreferences{}, ErrNotFound
		}
		return domain.UserPreferences{}, fmt.Errorf("store: preferences: %w", err)
	}
	return p, nil
}
