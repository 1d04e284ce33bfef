package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ArxivClient queries the ArXiv Atom feed API.
type ArxivClient struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	baseURL    string
}

func NewArxivClient() *ArxivClient {
	return &ArxivClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    newBreaker("arxiv"),
		baseURL:    "http://export.arxiv.org/api/query",
	}
}

type arxivFeed struct {
	XMLName xml.Name      `xml:"feed"`
	Entries []arxivEntry  `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
	Links     []arxivLink   `xml:"link"`
	Categories []arxivCategory `xml:"category"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type arxivCategory struct {
	Term string `xml:"term,attr"`
}

// Search queries the Atom feed for the given terms and returns up to
// maxResults papers.
func (c *ArxivClient) Search(ctx context.Context, query string, maxResults int) ([]PaperResult, error) {
	reqURL := fmt.Sprintf("%s?search_query=all:%s&max_results=%d",
		c.baseURL, url.QueryEscape(query), maxResults)

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, reqURL)
	})
	if err != nil {
		return nil, fmt.Errorf("arxiv search %q: %w", query, err)
	}
	return result.([]PaperResult), nil
}

func (c *ArxivClient) fetch(ctx context.Context, reqURL string) ([]PaperResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching atom feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("arxiv server error: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing atom feed: %w", err)
	}

	papers := make([]PaperResult, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		papers = append(papers, entryToPaper(entry))
	}
	return papers, nil
}

func entryToPaper(e arxivEntry) PaperResult {
	authors := make([]string, len(e.Authors))
	for i, a := range e.Authors {
		authors[i] = a.Name
	}

	categories := make([]string, len(e.Categories))
	for i, c := range e.Categories {
		categories[i] = c.Term
	}

	var pdfURL, absURL string
	for _, l := range e.Links {
		switch {
		case l.Type == "application/pdf":
			pdfURL = l.Href
		case l.Rel == "alternate":
			absURL = l.Href
		}
	}

	return PaperResult{
		Title:      strings.TrimSpace(strings.ReplaceAll(e.Title, "\n", " ")),
		Abstract:   strings.TrimSpace(strings.ReplaceAll(e.Summary, "\n", " ")),
		Authors:    authors,
		ArxivID:    extractArxivID(e.ID),
		URL:        absURL,
		PDFURL:     pdfURL,
		Published:  e.Published,
		Categories: categories,
		SourceType: "arxiv",
	}
}

// extractArxivID pulls the bare id (e.g. "2301.00001") out of an ArXiv
// abs/id URL.
func extractArxivID(idURL string) string {
	parts := strings.Split(idURL, "/abs/")
	if len(parts) == 2 {
		return parts[1]
	}
	parts = strings.Split(idURL, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return idURL
}
