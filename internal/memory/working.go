// Package memory implements the Memory Fabric: working (per-conversation),
// episodic (past sessions), and procedural (user preferences) stores, plus
// a unified Fabric facade — generalized from the "MemoryContext" unification
// the Python reference implementation's memory manager performs by hand.
package memory

import (
	"context"
	"fmt"
	"sync"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

// Working is the Conversation store: in-process first, falling through to
// the KV store on miss, with write-through on every mutation.
type Working struct {
	store kv.Store

	mu    sync.RWMutex
	cache map[string]*domain.Conversation
}

func NewWorking(store kv.Store) *Working {
	return &Working{store: store, cache: make(map[string]*domain.Conversation)}
}

// Get returns the conversation, preferring the in-process cache.
func (w *Working) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	w.mu.RLock()
	if c, ok := w.cache[id]; ok {
		w.mu.RUnlock()
		return c, nil
	}
	w.mu.RUnlock()

	var c domain.Conversation
	found, err := kv.GetJSON(ctx, w.store, kv.ConversationKey(id), &c)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	w.mu.Lock()
	w.cache[id] = &c
	w.mu.Unlock()
	return &c, nil
}

// Put writes the conversation to the in-process cache and the KV store,
// sliding the TTL.
func (w *Working) Put(ctx context.Context, c *domain.Conversation) error {
	w.mu.Lock()
	w.cache[c.ID] = c
	w.mu.Unlock()

	if err := kv.PutJSON(ctx, w.store, kv.ConversationKey(c.ID), c, domain.ConversationTTL); err != nil {
		return fmt.Errorf("storing conversation %s: %w", c.ID, err)
	}
	return nil
}

// Evict removes a conversation from both the in-process cache and the KV
// store.
func (w *Working) Evict(ctx context.Context, id string) error {
	w.mu.Lock()
	delete(w.cache, id)
	w.mu.Unlock()

	return w.store.Del(ctx, kv.ConversationKey(id))
}
