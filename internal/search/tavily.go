package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// TavilyClient calls the Tavily search REST API directly.
type TavilyClient struct {
	BaseURL     string
	APIKey      string
	SearchDepth string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// NewTavilyClient returns a client with defaults applied.
func NewTavilyClient(baseURL, apiKey string) *TavilyClient {
	u := strings.TrimSpace(baseURL)
	if u == "" {
		u = defaultTavilyBaseURL
	}
	return &TavilyClient{
		BaseURL:     u,
		APIKey:      strings.TrimSpace(apiKey),
		SearchDepth: "basic",
	}
}

// WithAPIKey returns a copy bound to a different key. The receiver is left
// untouched so request-scoped keys never leak into the shared client.
func (c *TavilyClient) WithAPIKey(apiKey string) *TavilyClient {
	clone := *c
	clone.APIKey = strings.TrimSpace(apiKey)
	return &clone
}

// Name returns the provider identifier.
func (c *TavilyClient) Name() string { return "tavily" }

// Endpoint returns the rate-limit key for this provider.
func (c *TavilyClient) Endpoint() string {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Host == "" {
		return "api.tavily.com"
	}
	return parsed.Hostname()
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Ready fails when the client has no API key.
func (c *TavilyClient) Ready() error {
	if c == nil {
		return fmt.Errorf("tavily client not configured")
	}
	if c.APIKey == "" {
		return fmt.Errorf("tavily api key is required")
	}
	return nil
}

// Search runs one query. The query text is sent exactly as given.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]RawResult, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: c.SearchDepth,
		Topic:       "general",
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/search"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
			RetryAfter: retryAfterHeader(resp.Header.Get("Retry-After")),
		}
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]RawResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, RawResult{
			URL:        r.URL,
			Title:      r.Title,
			Content:    r.Content,
			RawContent: r.RawContent,
			Score:      r.Score,
		})
	}
	return results, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}

func retryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
