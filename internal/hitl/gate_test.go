package hitl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

func TestRequestAutoApprovesWithoutCallback(t *testing.T) {
	m := NewManager(nil, nil)
	decision, err := m.Request(context.Background(), "sess-1", domain.GatePDFDownload, PDFDownloadContext(40))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, decision)
}

func TestRequestHonorsCallbackRejection(t *testing.T) {
	m := NewManager(nil, func(g domain.Gate) (domain.GateDecision, error) {
		return domain.DecisionRejected, nil
	})
	decision, err := m.Request(context.Background(), "sess-1", domain.GateExternalCrawl, ExternalCrawlContext([]string{"https://example.com"}))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejected, decision)
}

func TestShouldGatePDFDownload(t *testing.T) {
	assert.False(t, ShouldGatePDFDownload(15, 0))
	assert.True(t, ShouldGatePDFDownload(16, 0))
	assert.True(t, ShouldGatePDFDownload(40, 0))
	assert.False(t, ShouldGatePDFDownload(9, 10))
	assert.True(t, ShouldGatePDFDownload(11, 10))
}

func TestExternalURLsFiltersWhitelistedAndDedupes(t *testing.T) {
	isWhitelisted := func(u string) bool { return u == "https://arxiv.org/abs/1" }
	got := ExternalURLs([]string{
		"https://arxiv.org/abs/1",
		"https://evil.example.com/a",
		"https://evil.example.com/a",
		"",
		"https://another.example.com/b",
	}, isWhitelisted)
	assert.Equal(t, []string{"https://another.example.com/b", "https://evil.example.com/a"}, got)
}

func TestRequestPersistsResolvedGate(t *testing.T) {
	store := kv.NewMemoryStore()
	m := NewManager(store, nil)

	decision, err := m.Request(context.Background(), "sess-1", domain.GatePDFDownload, PDFDownloadContext(40))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionApproved, decision)

	keys, err := store.Scan(context.Background(), "gate:*")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	var persisted domain.Gate
	found, err := kv.GetJSON(context.Background(), store, keys[0], &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.GatePDFDownload, persisted.Kind)
	require.NotNil(t, persisted.Decision)
	assert.Equal(t, domain.DecisionApproved, *persisted.Decision)
}

func TestPDFDownloadContext(t *testing.T) {
	ctx := PDFDownloadContext(40)
	assert.Equal(t, 40, ctx["papers_to_download"])
	assert.Equal(t, 80, ctx["estimated_bandwidth_mb"])
}
