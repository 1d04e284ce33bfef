// Package dedup implements the PaperDeduplicator: multi-level paper
// identity (arXiv id, DOI, title+first-author fingerprint, fuzzy title)
// confined to a single plan's lifetime.
package dedup

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprint key, not a security boundary
	"encoding/hex"
	"log/slog"
	"strings"

	"scholarpilot.dev/core/internal/domain"
)

// FuzzyTitleThreshold is the LCS-ratio similarity above which two titles
// are considered the same paper.
const FuzzyTitleThreshold = 0.85

// TitleIndex is an optional external backend for the fuzzy-title level
// (internal/dedup/fuzzyindex implements it on Typesense). When set, it
// replaces the in-process O(n²) LCS scan without changing which titles are
// considered duplicates.
type TitleIndex interface {
	FindSimilar(ctx context.Context, title string) (paperID string, err error)
	Put(ctx context.Context, paperID, title string) error
}

// Deduplicator accumulates identity state across every paper pushed through
// a single plan's execution. It is never shared across plans.
type Deduplicator struct {
	arxivIDs     map[string]bool
	dois         map[string]bool
	fingerprints map[string]bool
	titles       []string   // running list for fuzzy comparison (in-process path)
	index        TitleIndex // nil: use the in-process LCS scan

	uniqueCount    int
	duplicatesRemoved int
}

func New() *Deduplicator {
	return &Deduplicator{
		arxivIDs:     make(map[string]bool),
		dois:         make(map[string]bool),
		fingerprints: make(map[string]bool),
	}
}

// NewWithIndex builds a Deduplicator whose fuzzy-title level queries idx
// instead of scanning every previously seen title.
func NewWithIndex(idx TitleIndex) *Deduplicator {
	d := New()
	d.index = idx
	return d
}

// Add evaluates a paper against every dedup level, in short-circuit order,
// and reports whether it is a new, unique paper.
func (d *Deduplicator) Add(p domain.Paper) bool {
	return d.AddContext(context.Background(), p)
}

// AddContext is Add with a context for the optional external title index's
// I/O; with no index configured it never suspends.
func (d *Deduplicator) AddContext(ctx context.Context, p domain.Paper) bool {
	if p.ArxivID != "" {
		if d.arxivIDs[p.ArxivID] {
			d.duplicatesRemoved++
			return false
		}
		d.arxivIDs[p.ArxivID] = true
	}

	if p.DOI != "" {
		normalizedDOI := normalizeDOI(p.DOI)
		if d.dois[normalizedDOI] {
			d.duplicatesRemoved++
			return false
		}
		d.dois[normalizedDOI] = true
	}

	fp := fingerprint(p)
	if fp != "" {
		if d.fingerprints[fp] {
			d.duplicatesRemoved++
			return false
		}
		d.fingerprints[fp] = true
	}

	title := strings.ToLower(strings.TrimSpace(p.Title))
	if title != "" && d.isFuzzyDuplicate(ctx, fp, title) {
		d.duplicatesRemoved++
		return false
	}

	d.uniqueCount++
	return true
}

// isFuzzyDuplicate runs the fuzzy-title level: against the external index
// when configured (falling back to the in-process scan on index errors),
// otherwise against the running title list. A title that is new is recorded
// on whichever path checked it.
func (d *Deduplicator) isFuzzyDuplicate(ctx context.Context, fp, title string) bool {
	if d.index != nil {
		match, err := d.index.FindSimilar(ctx, title)
		if err == nil {
			if match != "" {
				return true
			}
			docID := fp
			if docID == "" {
				sum := md5.Sum([]byte(title)) //nolint:gosec
				docID = hex.EncodeToString(sum[:])
			}
			if putErr := d.index.Put(ctx, docID, title); putErr != nil {
				slog.WarnContext(ctx, "dedup: title index write failed", "error", putErr)
			}
			return false
		}
		slog.WarnContext(ctx, "dedup: title index lookup failed, using in-process scan", "error", err)
	}

	for _, existing := range d.titles {
		if lcsRatio(title, existing) >= FuzzyTitleThreshold {
			return true
		}
	}
	d.titles = append(d.titles, title)
	return false
}

// Counts returns (unique, duplicates_removed) accumulated so far.
func (d *Deduplicator) Counts() (unique, duplicatesRemoved int) {
	return d.uniqueCount, d.duplicatesRemoved
}

func normalizeDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return doi
}

// fingerprint builds md5(lower(title)|lower(first_author)); empty when
// either component is missing.
func fingerprint(p domain.Paper) string {
	title := strings.ToLower(strings.TrimSpace(p.Title))
	if title == "" || len(p.Authors) == 0 {
		return ""
	}
	firstAuthor := strings.ToLower(strings.TrimSpace(p.Authors[0]))
	if firstAuthor == "" {
		return ""
	}
	sum := md5.Sum([]byte(title + "|" + firstAuthor)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// lcsRatio is the longest-common-subsequence length ratio between two
// strings, 2*lcs/(len(a)+len(b)), used as the fuzzy-title similarity score.
func lcsRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	lcs := lcsLength(a, b)
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

// SimilarityOf exposes the LCS-ratio similarity score for callers outside
// this package (internal/dedup/fuzzyindex re-validates an external index's
// candidate match against this exact definition).
func SimilarityOf(a, b string) float64 {
	return lcsRatio(strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b)))
}

func lcsLength(a, b string) int {
	rows, cols := len(a)+1, len(b)+1
	dp := make([][]int, rows)
	for i := range dp {
		dp[i] = make([]int, cols)
	}
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	return dp[rows-1][cols-1]
}
