package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// minResultsForQuality and minKeywordHitRatio back the poor-quality test
// in spec.md §4.4: fewer than 3 results, or fewer than 20% of titles
// containing any significant query keyword, is "poor".
const (
	minResultsForQuality  = 3
	minKeywordHitRatio    = 0.2
	maxRefinementAttempts = 2
)

// Searcher runs the Unified Search algorithm: parallel ArXiv+OpenAlex
// fan-out, quick dedup, quality gating, and a bounded refinement loop.
type Searcher struct {
	arxiv    *ArxivClient
	openAlex *OpenAlexClient
	refiner  *QueryRefiner
}

func NewSearcher(arxiv *ArxivClient, openAlex *OpenAlexClient, refiner *QueryRefiner) *Searcher {
	return &Searcher{arxiv: arxiv, openAlex: openAlex, refiner: refiner}
}

// Search implements the search tool: steps 1–6 of §4.4.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]PaperResult, error) {
	tried := map[string]bool{query: true}

	results := s.searchOnce(ctx, query, maxResults)
	seen := quickDedupKeys(results)

	for attempt := 0; !isQualityOK(query, results) && attempt < maxRefinementAttempts; attempt++ {
		suggestions := s.refiner.Suggest(ctx, query, triedList(tried))
		if len(suggestions) == 0 {
			break
		}

		var merged []PaperResult
		for _, sug := range suggestions {
			if tried[sug] {
				continue
			}
			tried[sug] = true

			more := s.searchOnce(ctx, sug, maxResults)
			for _, p := range more {
				key := paperDedupKey(p)
				if key != "" && seen[key] {
					continue
				}
				if key != "" {
					seen[key] = true
				}
				merged = append(merged, p)
			}
		}

		results = append(results, merged...)
		if isQualityOK(query, results) {
			break
		}
	}

	return results, nil
}

// searchOnce fans out to ArXiv and OpenAlex in parallel; either source's
// failure degrades to an empty contribution rather than aborting the
// whole search.
func (s *Searcher) searchOnce(ctx context.Context, query string, maxResults int) []PaperResult {
	var wg sync.WaitGroup
	var arxivResults, openAlexResults []PaperResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := s.arxiv.Search(ctx, query, maxResults)
		if err != nil {
			slog.WarnContext(ctx, "arxiv search failed", "error", err, "query", query)
			return
		}
		arxivResults = r
	}()
	go func() {
		defer wg.Done()
		r, err := s.openAlex.Search(ctx, query, maxResults)
		if err != nil {
			slog.WarnContext(ctx, "openalex search failed", "error", err, "query", query)
			return
		}
		openAlexResults = r
	}()
	wg.Wait()

	merged := append(arxivResults, openAlexResults...)
	return quickDedup(merged)
}

// quickDedupKeys builds the seen-set used by the refinement loop's merge
// step from an initial result batch.
func quickDedupKeys(papers []PaperResult) map[string]bool {
	seen := make(map[string]bool, len(papers))
	for _, p := range papers {
		if key := paperDedupKey(p); key != "" {
			seen[key] = true
		}
	}
	return seen
}

// paperDedupKey is the arXiv-id/DOI/fingerprint key used for the search
// tool's own quick dedup pass, distinct from (and cheaper than) the plan
// executor's persistent PaperDeduplicator.
func paperDedupKey(p PaperResult) string {
	switch {
	case p.ArxivID != "":
		return "arxiv:" + p.ArxivID
	case p.DOI != "":
		return "doi:" + strings.ToLower(strings.TrimSpace(p.DOI))
	case p.Title != "" && len(p.Authors) > 0:
		title := p.Title
		if len(title) > 50 {
			title = title[:50]
		}
		return fmt.Sprintf("fp:%s|%s", strings.ToLower(title), strings.ToLower(p.Authors[0]))
	default:
		return ""
	}
}

// quickDedup removes same-batch duplicates by paperDedupKey, keeping first
// occurrence order. A dropped duplicate still contributes: the kept record
// adopts fields the first source was missing, and the open-access PDF URL
// wins when the two sources disagree (§4.4 "known open-access domains are
// preferred when multiple PDF URLs exist").
func quickDedup(papers []PaperResult) []PaperResult {
	seen := make(map[string]int, len(papers))
	out := make([]PaperResult, 0, len(papers))
	for _, p := range papers {
		key := paperDedupKey(p)
		if key != "" {
			if i, ok := seen[key]; ok {
				out[i] = enrichFromDuplicate(out[i], p)
				continue
			}
			seen[key] = len(out)
		}
		out = append(out, p)
	}
	return out
}

func enrichFromDuplicate(kept, dup PaperResult) PaperResult {
	var candidates []string
	for _, u := range []string{kept.PDFURL, dup.PDFURL} {
		if u != "" {
			candidates = append(candidates, u)
		}
	}
	kept.PDFURL = PreferredPDFURL(candidates)

	if kept.Abstract == "" {
		kept.Abstract = dup.Abstract
	}
	if kept.ArxivID == "" {
		kept.ArxivID = dup.ArxivID
	}
	if kept.DOI == "" {
		kept.DOI = dup.DOI
	}
	if kept.Published == "" {
		kept.Published = dup.Published
	}
	return kept
}

// isQualityOK implements §4.4 step 4: not poor iff at least 3 results and
// at least 20% of titles contain a significant query keyword.
func isQualityOK(query string, results []PaperResult) bool {
	if len(results) < minResultsForQuality {
		return false
	}

	keywords := SignificantKeywords(query)
	if len(keywords) == 0 {
		return true
	}

	hits := 0
	for _, p := range results {
		title := strings.ToLower(p.Title)
		for _, kw := range keywords {
			if strings.Contains(title, kw) {
				hits++
				break
			}
		}
	}

	ratio := float64(hits) / float64(len(results))
	return ratio >= minKeywordHitRatio
}

// triedList flattens the tried-set into the slice shape the refiner's
// prompt wants, sorted for a stable prompt across runs.
func triedList(tried map[string]bool) []string {
	out := make([]string, 0, len(tried))
	for q := range tried {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}
