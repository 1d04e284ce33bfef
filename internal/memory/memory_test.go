package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/kv"
)

func TestWorkingPutGetRoundTrip(t *testing.T) {
	w := NewWorking(kv.NewMemoryStore())
	conv := &domain.Conversation{ID: "c1", UserID: "u1", State: domain.StateReviewing, CurrentTopic: "BERT"}

	require.NoError(t, w.Put(context.Background(), conv))

	got, err := w.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StateReviewing, got.State)
	assert.Equal(t, "BERT", got.CurrentTopic)

	missing, err := w.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkingGetSurvivesProcessCacheLoss(t *testing.T) {
	store := kv.NewMemoryStore()
	w1 := NewWorking(store)
	require.NoError(t, w1.Put(context.Background(), &domain.Conversation{ID: "c1", State: domain.StateIdle}))

	// A fresh Working over the same KV simulates a restarted process.
	w2 := NewWorking(store)
	got, err := w2.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StateIdle, got.State)
}

func TestEpisodicRecordTrimsPerUserList(t *testing.T) {
	e := NewEpisodic(kv.NewMemoryStore())
	for i := 0; i < domain.EpisodicListLimit+10; i++ {
		ep := domain.ResearchEpisode{
			EpisodeID: fmt.Sprintf("ep-%d", i),
			UserID:    "u1",
			Topic:     fmt.Sprintf("topic %d", i),
		}
		require.NoError(t, e.Record(context.Background(), ep))
	}

	episodes, err := e.Recent(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, episodes, domain.EpisodicListLimit)
	assert.Equal(t, fmt.Sprintf("ep-%d", domain.EpisodicListLimit+9), episodes[0].EpisodeID, "most recent first")
}

func TestEpisodicFindSimilarRanksByOverlap(t *testing.T) {
	e := NewEpisodic(kv.NewMemoryStore())
	seed := []domain.ResearchEpisode{
		{EpisodeID: "ep-1", UserID: "u1", Topic: "vision transformers for images"},
		{EpisodeID: "ep-2", UserID: "u1", Topic: "vision models"},
		{EpisodeID: "ep-3", UserID: "u1", Topic: "protein folding"},
	}
	for _, ep := range seed {
		require.NoError(t, e.Record(context.Background(), ep))
	}

	similar, err := e.FindSimilar(context.Background(), "u1", "vision transformers survey", 5)
	require.NoError(t, err)
	require.Len(t, similar, 2, "zero-overlap episodes are excluded")
	assert.Equal(t, "ep-1", similar[0].EpisodeID, "highest overlap ranks first")
}

func TestProceduralUpdateFromBehavior(t *testing.T) {
	p := NewProcedural(kv.NewMemoryStore())

	require.NoError(t, p.UpdateFromBehavior(context.Background(), "u1", "vision transformers for medical imaging", "vi", "arxiv", 50))

	prefs, err := p.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "vi", prefs.PreferredLanguage)
	assert.Contains(t, prefs.PreferredSources, "arxiv")
	assert.Contains(t, prefs.CommonTopics, "vision transformers for")
	assert.Equal(t, 50, prefs.MaxPapers, "max papers widens to the request")
	assert.Equal(t, 1, prefs.InteractionCount)

	// MaxPapers only widens, never narrows.
	require.NoError(t, p.UpdateFromBehavior(context.Background(), "u1", "bert", "vi", "arxiv", 10))
	prefs, err = p.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, prefs.MaxPapers)
	assert.Equal(t, 2, prefs.InteractionCount)
}

func TestShouldSkipClarificationExplicitFlag(t *testing.T) {
	store := kv.NewMemoryStore()
	f := NewFabric(store)

	skip, err := f.ShouldSkipClarification(context.Background(), "u1", "anything")
	require.NoError(t, err)
	assert.False(t, skip, "new users never skip")

	require.NoError(t, f.Procedural.Put(context.Background(), &domain.UserPreferences{UserID: "u2", SkipClarification: true}))
	skip, err = f.ShouldSkipClarification(context.Background(), "u2", "anything")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestShouldSkipClarificationExpertWithPriorSuccess(t *testing.T) {
	store := kv.NewMemoryStore()
	f := NewFabric(store)

	require.NoError(t, f.Procedural.Put(context.Background(), &domain.UserPreferences{UserID: "u1", InteractionCount: 12}))
	require.NoError(t, f.Episodic.Record(context.Background(), domain.ResearchEpisode{
		EpisodeID: "ep-1", UserID: "u1", Topic: "vision transformers", Outcome: domain.OutcomeSuccess,
	}))

	skip, err := f.ShouldSkipClarification(context.Background(), "u1", "vision transformers follow-up")
	require.NoError(t, err)
	assert.True(t, skip)

	// An expert with only failed sessions on the topic still clarifies.
	require.NoError(t, f.Procedural.Put(context.Background(), &domain.UserPreferences{UserID: "u2", InteractionCount: 12}))
	require.NoError(t, f.Episodic.Record(context.Background(), domain.ResearchEpisode{
		EpisodeID: "ep-2", UserID: "u2", Topic: "vision transformers", Outcome: domain.OutcomeFailed,
	}))
	skip, err = f.ShouldSkipClarification(context.Background(), "u2", "vision transformers again")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestFabricContextAggregatesMemory(t *testing.T) {
	store := kv.NewMemoryStore()
	f := NewFabric(store)

	require.NoError(t, f.Procedural.Put(context.Background(), &domain.UserPreferences{
		UserID: "u1", PreferredLanguage: "en", MaxPapers: 30, InteractionCount: 3,
	}))
	require.NoError(t, f.Episodic.Record(context.Background(), domain.ResearchEpisode{
		EpisodeID: "ep-1", UserID: "u1", Topic: "vision transformers",
		Outcome: domain.OutcomeSuccess, SourcesUsed: []string{"arxiv", "openalex"},
		EffectiveKeywords: []string{"ViT"}, IneffectiveKeywords: []string{"vision v2"},
	}))

	memCtx, err := f.Context(context.Background(), "u1", "vision transformers extensions")
	require.NoError(t, err)
	assert.Len(t, memCtx.SimilarSessionSummaries, 1)
	assert.Contains(t, memCtx.RecommendedSources, "arxiv")
	assert.Contains(t, memCtx.EffectiveKeywords, "ViT")
	assert.Contains(t, memCtx.IneffectiveKeywords, "vision v2")
	assert.Equal(t, 30, memCtx.MaxPapers)
	assert.Equal(t, domain.ExperienceRegular, memCtx.ExperienceLevel)
}
