// Package search defines the web-search collaborator and a Tavily-backed
// implementation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Result is one ranked search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// WebSearcher returns ranked results for a query. Implementations may fail
// with *SearchError on quota exhaustion or network failure.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// SearchError wraps a failed search call.
type SearchError struct {
	Cause error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed: %v", e.Cause)
}

func (e *SearchError) Unwrap() error { return e.Cause }

const tavilyEndpoint = "https://api.tavily.com/search"

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// TavilyClient implements WebSearcher against the Tavily search API.
type TavilyClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewTavilyClient builds a Tavily searcher. An empty apiKey falls back to
// TAVILY_API_KEY.
func NewTavilyClient(apiKey string, timeout time.Duration, logger *zap.Logger) *TavilyClient {
	if apiKey == "" {
		apiKey = os.Getenv("TAVILY_API_KEY")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TavilyClient{
		endpoint: tavilyEndpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Search issues the query and maps Tavily results into the collaborator
// contract, normalized and deduplicated by URL.
func (t *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if t.apiKey == "" {
		return nil, &SearchError{Cause: fmt.Errorf("tavily api key not configured")}
	}
	body, err := json.Marshal(tavilyRequest{APIKey: t.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, &SearchError{Cause: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &SearchError{Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &SearchError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &SearchError{Cause: fmt.Errorf("search quota exhausted")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SearchError{Cause: fmt.Errorf("search service returned status %d", resp.StatusCode)}
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &SearchError{Cause: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, Result{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}
	t.logger.Debug("search completed", zap.String("query", query), zap.Int("results", len(results)))
	return Dedupe(results), nil
}
