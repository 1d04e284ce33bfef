package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

func TestArgsHashIsOrderIndependent(t *testing.T) {
	a, err := ArgsHash(map[string]any{"query": "bert", "max_results": 20})
	require.NoError(t, err)
	b, err := ArgsHash(map[string]any{"max_results": 20, "query": "bert"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ArgsHash(map[string]any{"query": "gpt", "max_results": 20})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGetOrCallWritesThroughAndHitsOnSecondCall(t *testing.T) {
	c := New(kv.NewMemoryStore(), nil)
	args := map[string]any{"query": "bert"}
	calls := 0
	fn := func() (any, error) {
		calls++
		return []string{"paper-1"}, nil
	}

	var out json.RawMessage
	hit, err := c.GetOrCall(context.Background(), "search", args, &out, fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, calls)

	hit, err = c.GetOrCall(context.Background(), "search", args, &out, fn)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls, "second call must come from cache")

	var decoded []string
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, []string{"paper-1"}, decoded)
}

func TestGetOrCallDoesNotCacheFailures(t *testing.T) {
	c := New(kv.NewMemoryStore(), nil)
	args := map[string]any{"query": "bert"}
	calls := 0

	var out json.RawMessage
	_, err := c.GetOrCall(context.Background(), "search", args, &out, func() (any, error) {
		calls++
		return nil, fmt.Errorf("upstream down")
	})
	require.Error(t, err)

	_, err = c.GetOrCall(context.Background(), "search", args, &out, func() (any, error) {
		calls++
		return []string{"ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "a failed call must not poison the cache")
}

func TestMetricsHitRate(t *testing.T) {
	c := New(kv.NewMemoryStore(), nil)
	var out json.RawMessage
	fn := func() (any, error) { return "x", nil }

	_, err := c.GetOrCall(context.Background(), "search", map[string]any{"q": "a"}, &out, fn)
	require.NoError(t, err)
	_, err = c.GetOrCall(context.Background(), "search", map[string]any{"q": "a"}, &out, fn)
	require.NoError(t, err)
	_, err = c.GetOrCall(context.Background(), "search", map[string]any{"q": "b"}, &out, fn)
	require.NoError(t, err)

	hits, misses, rate := c.Metrics.Snapshot()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.InDelta(t, 1.0/3.0, rate, 1e-9)
	assert.GreaterOrEqual(t, rate, 0.0)
	assert.LessOrEqual(t, rate, 1.0)
}

func TestPDFPagesRoundTrip(t *testing.T) {
	c := New(kv.NewMemoryStore(), nil)
	pages := PDFPages{
		FullText:  "page one text",
		PageInfos: []domain.PageInfo{{CharStart: 0, CharEnd: 13, Page: 1}},
		PDFHash:   "abc123",
	}

	require.NoError(t, c.PutPDFPages(context.Background(), "https://arxiv.org/pdf/1.pdf", pages))

	got, found, err := c.PDFPagesFor(context.Background(), "https://arxiv.org/pdf/1.pdf")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pages, got)

	_, found, err = c.PDFPagesFor(context.Background(), "https://arxiv.org/pdf/2.pdf")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTTLForFallsBackToDefault(t *testing.T) {
	c := New(kv.NewMemoryStore(), nil)
	assert.Equal(t, defaultTTLs["search"], c.ttlFor("search"))
	assert.Equal(t, defaultTTLs["default"], c.ttlFor("never_registered_tool"))
}
