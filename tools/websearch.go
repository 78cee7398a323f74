package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m4xw311/shellmind/errors"
	"golang.org/x/time/rate"
)

const (
	WebSearchName      = "web-search"
	DefaultMaxResults  = 3
	MaxResultsCap      = 5
	maxSnippetChars    = 300
	defaultTavilyURL   = "https://api.tavily.com/search"
	defaultSearchDepth = "advanced"
)

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"content"`
}

type SearchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// Searcher queries a web search provider.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*SearchResponse, error)
}

// TavilySearcher calls the Tavily search API. Requests are throttled by a
// token bucket shared by all callers.
type TavilySearcher struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
	limiter  *rate.Limiter
}

func NewTavilySearcher(apiKey, endpoint string, perSecond float64, timeout time.Duration) *TavilySearcher {
	if endpoint == "" {
		endpoint = defaultTavilyURL
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &TavilySearcher{
		APIKey:   apiKey,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

func (s *TavilySearcher) Search(ctx context.Context, query string, maxResults int) (*SearchResponse, error) {
	if s.APIKey == "" {
		return nil, errors.New("TAVILY_API_KEY is not set; web search is unavailable (get a key at https://tavily.com)")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "search rate limiter")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        s.APIKey,
		Query:         query,
		MaxResults:    maxResults,
		SearchDepth:   defaultSearchDepth,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode search request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "search request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read search response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("search failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out SearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to decode search response")
	}
	return &out, nil
}

// WebSearchTool exposes a Searcher to the model.
type WebSearchTool struct {
	searcher   Searcher
	maxResults int
}

// NewWebSearchTool caps maxResults at MaxResultsCap.
func NewWebSearchTool(searcher Searcher, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsCap {
		maxResults = MaxResultsCap
	}
	return &WebSearchTool{searcher: searcher, maxResults: maxResults}
}

func (t *WebSearchTool) Name() string { return WebSearchName }

func (t *WebSearchTool) Description() string {
	return "Searches the web for technical documentation, release notes and current information " +
		"such as the latest version of a tool or image. Returns titles, URLs and short snippets."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query. Include tool names, versions or error messages.",
				"minLength":   1,
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of results (default %d).", t.maxResults),
				"minimum":     1,
			},
		},
		"required": []any{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, ok := stringArg(args, "query")
	if !ok || strings.TrimSpace(query) == "" {
		return "", errors.New("missing or invalid 'query' argument")
	}
	limit := intArg(args, "max_results", t.maxResults)
	if limit <= 0 || limit > t.maxResults {
		limit = t.maxResults
	}

	resp, err := t.searcher.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}
	results := resp.Results
	if len(results) > limit {
		results = results[:limit]
	}
	return formatSearch(resp.Answer, results), nil
}

func formatSearch(answer string, results []SearchResult) string {
	var b strings.Builder
	if answer != "" {
		b.WriteString("=== Quick Answer ===\n")
		b.WriteString(answer)
		b.WriteString("\n\n")
	}
	if len(results) == 0 {
		b.WriteString("No results found.")
		return b.String()
	}
	b.WriteString("=== Search Results ===")
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n\n%d. %s\n   URL: %s", i+1, title, r.URL)
		if snippet := truncateSnippet(r.Snippet); snippet != "" {
			fmt.Fprintf(&b, "\n   %s", snippet)
		}
	}
	return b.String()
}

func truncateSnippet(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxSnippetChars {
		return s
	}
	return string(r[:maxSnippetChars-3]) + "..."
}
