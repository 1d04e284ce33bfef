// Package cache implements the Cache Layer: keyed, TTL'd memoization over
// tool outputs and PDF bodies, with a per-tool TTL table and running
// hit/miss metrics.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

// defaultTTLs is the per-tool TTL table (§4.5); "default" covers any tool
// name not listed explicitly.
var defaultTTLs = map[string]time.Duration{
	"search":       time.Hour,
	"hf_trending":  30 * time.Minute,
	"collect_url":  24 * time.Hour,
	"collect_urls": 24 * time.Hour,
	"default":      time.Hour,
}

const pdfTTL = 7 * 24 * time.Hour

// Metrics accumulates hit/miss counts and the running hit rate.
type Metrics struct {
	mu     sync.Mutex
	hits   int64
	misses int64
}

func (m *Metrics) recordHit()  { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *Metrics) recordMiss() { m.mu.Lock(); m.misses++; m.mu.Unlock() }

// Snapshot returns the current hit/miss counts and hit rate.
func (m *Metrics) Snapshot() (hits, misses int64, hitRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.hits + m.misses
	if total == 0 {
		return m.hits, m.misses, 0
	}
	return m.hits, m.misses, float64(m.hits) / float64(total)
}

// Cache is the Cache Layer: a thin, concurrency-safe wrapper over the KV
// store's SETEX/GET, keyed by tool name + canonicalized argument hash.
type Cache struct {
	store   kv.Store
	ttls    map[string]time.Duration
	Metrics *Metrics
}

// New builds a Cache. ttlOverrides merges over (and may replace) the
// package default TTL table.
func New(store kv.Store, ttlOverrides map[string]time.Duration) *Cache {
	ttls := make(map[string]time.Duration, len(defaultTTLs))
	for k, v := range defaultTTLs {
		ttls[k] = v
	}
	for k, v := range ttlOverrides {
		ttls[k] = v
	}
	return &Cache{store: store, ttls: ttls, Metrics: &Metrics{}}
}

func (c *Cache) ttlFor(tool string) time.Duration {
	if ttl, ok := c.ttls[tool]; ok {
		return ttl
	}
	return c.ttls["default"]
}

// ArgsHash produces the md5(canonical_json(args)) fragment of a tool cache
// key. Map keys are sorted before marshaling so argument order never
// affects the hash.
func ArgsHash(args map[string]any) (string, error) {
	canonical, err := canonicalJSON(args)
	if err != nil {
		return "", fmt.Errorf("canonicalizing args: %w", err)
	}
	sum := md5.Sum(canonical) //nolint:gosec // cache key, not a security boundary
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(args map[string]any) ([]byte, error) {
	keysSorted := make([]string, 0, len(args))
	for k := range args {
		keysSorted = append(keysSorted, k)
	}
	sort.Strings(keysSorted)

	ordered := make(map[string]any, len(args))
	for _, k := range keysSorted {
		ordered[k] = args[k]
	}
	return json.Marshal(ordered)
}

// GetOrCall returns the cached result for (tool, args) if present; otherwise
// it invokes fn, caches the result, and returns it. result must be a
// pointer the JSON result is unmarshaled into / marshaled from.
func (c *Cache) GetOrCall(ctx context.Context, tool string, args map[string]any, result any, fn func() (any, error)) (cacheHit bool, err error) {
	hash, err := ArgsHash(args)
	if err != nil {
		return false, err
	}
	key := kv.ToolCacheKey(tool, hash)

	found, err := kv.GetJSON(ctx, c.store, key, result)
	if err != nil {
		return false, fmt.Errorf("reading tool cache %s: %w", key, err)
	}
	if found {
		c.Metrics.recordHit()
		return true, nil
	}
	c.Metrics.recordMiss()

	value, err := fn()
	if err != nil {
		return false, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshaling tool result for %s: %w", key, err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return false, fmt.Errorf("round-tripping tool result for %s: %w", key, err)
	}

	if err := kv.PutJSON(ctx, c.store, key, value, c.ttlFor(tool)); err != nil {
		return false, fmt.Errorf("writing tool cache %s: %w", key, err)
	}
	return false, nil
}

// PDFText returns cached extracted text for a PDF URL.
func (c *Cache) PDFText(ctx context.Context, url string) (string, bool, error) {
	data, found, err := c.store.Get(ctx, kv.PDFCacheKey(url))
	if err != nil || !found {
		return "", found, err
	}
	return string(data), true, nil
}

// PutPDFText caches extracted PDF text for 7 days.
func (c *Cache) PutPDFText(ctx context.Context, url, text string) error {
	return c.store.SetEx(ctx, kv.PDFCacheKey(url), []byte(text), pdfTTL)
}

// PDFPages is the JSON shape stored under pdf_pages_cache:{url}.
type PDFPages struct {
	FullText  string            `json:"full_text"`
	PageInfos []domain.PageInfo `json:"page_infos"`
	PDFHash   string            `json:"pdf_hash"`
}

func (c *Cache) PDFPagesFor(ctx context.Context, url string) (PDFPages, bool, error) {
	var pages PDFPages
	found, err := kv.GetJSON(ctx, c.store, kv.PDFPagesCacheKey(url), &pages)
	return pages, found, err
}

func (c *Cache) PutPDFPages(ctx context.Context, url string, pages PDFPages) error {
	return kv.PutJSON(ctx, c.store, kv.PDFPagesCacheKey(url), pages, pdfTTL)
}
