package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Collector resolves user-supplied URLs (arXiv abs/pdf links, RSS/Atom
// feeds, or generic web pages) into PaperResult records for seeding a
// plan's search results with user-provided sources.
type Collector struct {
	httpClient *http.Client
}

func NewCollector() *Collector {
	return &Collector{httpClient: &http.Client{Timeout: 20 * time.Second}}
}

var arxivURLPattern = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/([0-9]{4}\.[0-9]{4,5}(?:v[0-9]+)?)`)

// CollectURL resolves a single URL into zero or one PaperResult.
func (c *Collector) CollectURL(ctx context.Context, rawURL string) (*PaperResult, error) {
	if m := arxivURLPattern.FindStringSubmatch(rawURL); m != nil {
		return c.collectArxiv(ctx, m[1])
	}
	if strings.Contains(rawURL, ".xml") || strings.Contains(rawURL, "/feed") || strings.Contains(rawURL, "/rss") {
		return c.collectFeedEntry(ctx, rawURL)
	}
	return c.collectGeneric(ctx, rawURL)
}

// CollectURLs resolves each URL independently; a single failure does not
// abort the batch, it is simply omitted from the result.
func (c *Collector) CollectURLs(ctx context.Context, urls []string) []PaperResult {
	results := make([]PaperResult, 0, len(urls))
	for _, u := range urls {
		paper, err := c.CollectURL(ctx, u)
		if err != nil || paper == nil {
			continue
		}
		results = append(results, *paper)
	}
	return results
}

func (c *Collector) collectArxiv(ctx context.Context, arxivID string) (*PaperResult, error) {
	bareID := strings.TrimSuffix(arxivID, "v1")
	reqURL := fmt.Sprintf("http://export.arxiv.org/api/query?id_list=%s", bareID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building arxiv lookup request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching arxiv entry: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading arxiv entry: %w", err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing arxiv entry: %w", err)
	}
	if len(feed.Entries) == 0 {
		return nil, fmt.Errorf("arxiv id %s not found", bareID)
	}

	paper := entryToPaper(feed.Entries[0])
	return &paper, nil
}

type genericFeed struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
			Desc  string `xml:"description"`
		} `xml:"item"`
	} `xml:"channel"`
	Entries []struct {
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
		Links   []struct {
			Href string `xml:"href,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

// collectFeedEntry treats the URL itself as a single feed and returns its
// first item — used when a user pastes a feed URL expecting "the latest
// entry" rather than the whole channel.
func (c *Collector) collectFeedEntry(ctx context.Context, feedURL string) (*PaperResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	var feed genericFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	if len(feed.Channel.Items) > 0 {
		item := feed.Channel.Items[0]
		return &PaperResult{
			Title:      strings.TrimSpace(item.Title),
			Abstract:   strings.TrimSpace(item.Desc),
			URL:        item.Link,
			SourceType: "feed",
		}, nil
	}
	if len(feed.Entries) > 0 {
		entry := feed.Entries[0]
		var link string
		if len(entry.Links) > 0 {
			link = entry.Links[0].Href
		}
		return &PaperResult{
			Title:      strings.TrimSpace(entry.Title),
			Abstract:   strings.TrimSpace(entry.Summary),
			URL:        link,
			SourceType: "feed",
		}, nil
	}
	return nil, fmt.Errorf("feed at %s had no entries", feedURL)
}

var titleTagPattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
var metaDescPattern = regexp.MustCompile(`(?is)<meta\s+name=["']description["']\s+content=["'](.*?)["']`)

// collectGeneric scrapes a generic web page's <title> and description meta
// tag; it never attempts full content extraction, only enough to seed a
// recognizable title/abstract pair for downstream dedup and screening.
func (c *Collector) collectGeneric(ctx context.Context, rawURL string) (*PaperResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building page request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}
	html := string(body)

	title := ""
	if m := titleTagPattern.FindStringSubmatch(html); m != nil {
		title = strings.TrimSpace(m[1])
	}
	abstract := ""
	if m := metaDescPattern.FindStringSubmatch(html); m != nil {
		abstract = strings.TrimSpace(m[1])
	}
	if title == "" {
		return nil, fmt.Errorf("no title found at %s", rawURL)
	}

	return &PaperResult{
		Title:      title,
		Abstract:   abstract,
		URL:        rawURL,
		SourceType: "web",
	}, nil
}
