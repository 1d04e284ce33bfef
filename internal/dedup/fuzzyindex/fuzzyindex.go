// Package fuzzyindex backs the Deduplicator's fuzzy-title check with a real
// search index instead of an O(n²) LCS scan over every previously seen
// title, realizing the spec's note that a locality-sensitive-hash-style
// index may replace the exact check without changing observable behavior.
package fuzzyindex

import (
	"context"
	"fmt"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"scholarpilot.dev/core/internal/dedup"
)

const collectionName = "paper_titles"

// Index is a per-plan fuzzy-title lookup backed by a Typesense collection.
// Like the Deduplicator it wraps, it is never shared across plans — callers
// create one per plan run and let it go out of scope at plan completion.
type Index struct {
	client     *typesense.Client
	collection string
}

// New creates (or reuses) a plan-scoped Typesense collection and returns an
// Index over it.
func New(ctx context.Context, client *typesense.Client, planID string) (*Index, error) {
	collection := fmt.Sprintf("%s_%s", collectionName, planID)

	schema := &api.CollectionSchema{
		Name: collection,
		Fields: []api.Field{
			{Name: "title", Type: "string"},
			{Name: "paper_id", Type: "string"},
		},
	}

	if _, err := client.Collections().Create(ctx, schema); err != nil {
		// Collection already existing for this plan (resume case) is fine.
		if _, getErr := client.Collection(collection).Retrieve(ctx); getErr != nil {
			return nil, fmt.Errorf("creating typesense collection %s: %w", collection, err)
		}
	}

	return &Index{client: client, collection: collection}, nil
}

// FindSimilar returns the paper id of an already-indexed title whose
// similarity to title meets the Deduplicator's fuzzy threshold, or ""
// when none is close enough.
func (idx *Index) FindSimilar(ctx context.Context, title string) (string, error) {
	searchParams := &api.SearchCollectionParams{
		Q:       pointer.String(title),
		QueryBy: pointer.String("title"),
		PerPage: pointer.Int(1),
	}

	result, err := idx.client.Collection(idx.collection).Documents().Search(ctx, searchParams)
	if err != nil {
		return "", fmt.Errorf("searching fuzzy title index: %w", err)
	}
	if result.Hits == nil || len(*result.Hits) == 0 {
		return "", nil
	}

	hit := (*result.Hits)[0]
	if hit.Document == nil {
		return "", nil
	}
	doc := *hit.Document

	candidateTitle, _ := doc["title"].(string)
	if candidateTitle == "" {
		return "", nil
	}
	if !closeEnough(title, candidateTitle) {
		return "", nil
	}

	paperID, _ := doc["paper_id"].(string)
	return paperID, nil
}

// Put indexes a newly-accepted unique paper's title for future lookups.
func (idx *Index) Put(ctx context.Context, paperID, title string) error {
	doc := map[string]any{
		"id":       paperID,
		"title":    title,
		"paper_id": paperID,
	}
	if _, err := idx.client.Collection(idx.collection).Documents().Upsert(ctx, doc, nil); err != nil {
		return fmt.Errorf("indexing title for %s: %w", paperID, err)
	}
	return nil
}

// closeEnough re-checks Typesense's typo-tolerant match against the exact
// LCS-ratio threshold the in-process Deduplicator uses, so swapping the
// backing index never changes which titles are considered duplicates.
func closeEnough(a, b string) bool {
	return dedup.SimilarityOf(a, b) >= dedup.FuzzyTitleThreshold
}
