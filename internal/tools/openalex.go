package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// OpenAlexClient queries the OpenAlex works search API.
type OpenAlexClient struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	baseURL    string
}

func NewOpenAlexClient() *OpenAlexClient {
	return &OpenAlexClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    newBreaker("openalex"),
		baseURL:    "https://api.openalex.org/works",
	}
}

// maxCondensedTerms bounds query condensation: OpenAlex AND-matches every
// term in title_and_abstract.search, so a long natural-language query
// needs narrowing to its significant words or it over-constrains and
// returns nothing.
const maxCondensedTerms = 4

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	Title              string                 `json:"title"`
	DOI                string                 `json:"doi"`
	PublicationDate    string                 `json:"publication_date"`
	Authorships        []openAlexAuthorship   `json:"authorships"`
	PrimaryLocation    *openAlexLocation      `json:"primary_location"`
	AbstractInvertedIdx map[string][]int      `json:"abstract_inverted_index"`
}

type openAlexAuthorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type openAlexLocation struct {
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
}

// Search condenses query to its significant non-stopwords and runs an
// AND-matched title_and_abstract search.
func (c *OpenAlexClient) Search(ctx context.Context, query string, maxResults int) ([]PaperResult, error) {
	condensed := condenseQuery(query, maxCondensedTerms)

	reqURL := fmt.Sprintf("%s?filter=title_and_abstract.search:%s&per-page=%d",
		c.baseURL, url.QueryEscape(condensed), maxResults)

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, reqURL)
	})
	if err != nil {
		return nil, fmt.Errorf("openalex search %q: %w", query, err)
	}
	return result.([]PaperResult), nil
}

func (c *OpenAlexClient) fetch(ctx context.Context, reqURL string) ([]PaperResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching openalex results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("openalex server error: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openalex returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var parsed openAlexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing openalex response: %w", err)
	}

	papers := make([]PaperResult, 0, len(parsed.Results))
	for _, w := range parsed.Results {
		papers = append(papers, workToPaper(w))
	}
	return papers, nil
}

func workToPaper(w openAlexWork) PaperResult {
	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		authors = append(authors, a.Author.DisplayName)
	}

	var absURL, pdfURL string
	if w.PrimaryLocation != nil {
		absURL = w.PrimaryLocation.LandingPageURL
		pdfURL = w.PrimaryLocation.PDFURL
	}

	return PaperResult{
		Title:      w.Title,
		Abstract:   reconstructAbstract(w.AbstractInvertedIdx),
		Authors:    authors,
		DOI:        strings.TrimPrefix(w.DOI, "https://doi.org/"),
		URL:        absURL,
		PDFURL:     pdfURL,
		Published:  w.PublicationDate,
		SourceType: "openalex",
	}
}

// reconstructAbstract rebuilds plain text from OpenAlex's inverted-index
// abstract representation.
func reconstructAbstract(idx map[string][]int) string {
	if len(idx) == 0 {
		return ""
	}

	maxPos := 0
	for _, positions := range idx {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}

	words := make([]string, maxPos+1)
	for word, positions := range idx {
		for _, p := range positions {
			words[p] = word
		}
	}
	return strings.Join(words, " ")
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"and": true, "or": true, "for": true, "to": true, "with": true, "is": true,
	"are": true, "about": true, "into": true, "what": true, "how": true,
}

// condenseQuery keeps at most maxTerms significant non-stopwords, in
// original order, so an AND-matching search doesn't over-constrain on a
// long natural-language query.
func condenseQuery(query string, maxTerms int) string {
	words := strings.Fields(query)
	significant := make([]string, 0, maxTerms)
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if len(clean) < 3 || stopwords[clean] {
			continue
		}
		significant = append(significant, w)
		if len(significant) >= maxTerms {
			break
		}
	}
	if len(significant) == 0 {
		return query
	}
	return strings.Join(significant, " ")
}

// SignificantKeywords returns the query's significant (≥3 char,
// non-stopword) terms, lowercased, for the search tool's quality gating.
func SignificantKeywords(query string) []string {
	words := strings.Fields(query)
	result := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if len(clean) >= 3 && !stopwords[clean] {
			result = append(result, clean)
		}
	}
	return result
}
