package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HFTrendingClient fetches currently trending papers from the Hugging Face
// daily papers endpoint. It is best-effort: callers treat an error or an
// empty result the same way, since trending context is a nice-to-have for
// plan seeding, never a required source.
type HFTrendingClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewHFTrendingClient() *HFTrendingClient {
	return &HFTrendingClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://huggingface.co/api/daily_papers",
	}
}

type hfDailyPaper struct {
	Paper struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		Summary  string   `json:"summary"`
		Authors  []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"paper"`
}

// Trending returns up to maxResults trending papers, or an empty slice if
// the endpoint is unreachable or returns nothing usable.
func (c *HFTrendingClient) Trending(ctx context.Context, maxResults int) []PaperResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var entries []hfDailyPaper
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil
	}

	results := make([]PaperResult, 0, maxResults)
	for _, e := range entries {
		if len(results) >= maxResults {
			break
		}
		authors := make([]string, len(e.Paper.Authors))
		for i, a := range e.Paper.Authors {
			authors[i] = a.Name
		}
		results = append(results, PaperResult{
			Title:      e.Paper.Title,
			Abstract:   e.Paper.Summary,
			Authors:    authors,
			ArxivID:    e.Paper.ID,
			URL:        fmt.Sprintf("https://huggingface.co/papers/%s", e.Paper.ID),
			SourceType: "hf_trending",
		})
	}
	return results
}
