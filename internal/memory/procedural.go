package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

// Procedural stores UserPreferences with an in-process read cache, mirroring
// the working-memory store's cache-then-KV shape.
type Procedural struct {
	store kv.Store

	mu    sync.RWMutex
	cache map[string]*domain.UserPreferences
}

func NewProcedural(store kv.Store) *Procedural {
	return &Procedural{store: store, cache: make(map[string]*domain.UserPreferences)}
}

func (p *Procedural) Get(ctx context.Context, userID string) (*domain.UserPreferences, error) {
	p.mu.RLock()
	if prefs, ok := p.cache[userID]; ok {
		p.mu.RUnlock()
		return prefs, nil
	}
	p.mu.RUnlock()

	var prefs domain.UserPreferences
	found, err := kv.GetJSON(ctx, p.store, kv.PreferencesKey(userID), &prefs)
	if err != nil {
		return nil, fmt.Errorf("loading preferences %s: %w", userID, err)
	}
	if !found {
		prefs = domain.UserPreferences{UserID: userID, MinPapers: 1, MaxPapers: 20, RelevanceThreshold: 5.0}
	}

	p.mu.Lock()
	p.cache[userID] = &prefs
	p.mu.Unlock()
	return &prefs, nil
}

func (p *Procedural) Put(ctx context.Context, prefs *domain.UserPreferences) error {
	p.mu.Lock()
	p.cache[prefs.UserID] = prefs
	p.mu.Unlock()

	if err := kv.PutJSON(ctx, p.store, kv.PreferencesKey(prefs.UserID), prefs, domain.PreferencesTTL); err != nil {
		return fmt.Errorf("storing preferences %s: %w", prefs.UserID, err)
	}
	return nil
}

// UpdateFromBehavior folds one completed request's behavior into the user's
// preferences: accumulates distinct topics (by first-3-word triple),
// languages, sources, and monotonically widens MaxPapers when the request
// exceeded it.
func (p *Procedural) UpdateFromBehavior(ctx context.Context, userID, topic, language, source string, requestedPapers int) error {
	prefs, err := p.Get(ctx, userID)
	if err != nil {
		return err
	}

	triple := firstNWords(topic, 3)
	if triple != "" && !contains(prefs.CommonTopics, triple) {
		prefs.CommonTopics = append(prefs.CommonTopics, triple)
		if len(prefs.CommonTopics) > domain.CommonTopicsLimit {
			prefs.CommonTopics = prefs.CommonTopics[len(prefs.CommonTopics)-domain.CommonTopicsLimit:]
		}
	}

	if language != "" {
		prefs.PreferredLanguage = language
	}
	if source != "" && !contains(prefs.PreferredSources, source) {
		prefs.PreferredSources = append(prefs.PreferredSources, source)
	}
	if requestedPapers > prefs.MaxPapers {
		prefs.MaxPapers = requestedPapers
	}
	prefs.InteractionCount++

	return p.Put(ctx, prefs)
}

func firstNWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
