package functions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"parley/internal/entrypoint"

	bravesearch "github.com/cnosuke/go-brave-search"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// BraveSearcher searches with the Brave Search API.
type BraveSearcher struct {
	client *bravesearch.Client
}

func NewBraveSearcher(apiKey string) (*BraveSearcher, error) {
	client, err := bravesearch.NewClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating brave client: %w", err)
	}
	return &BraveSearcher{client: client}, nil
}

func (b *BraveSearcher) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	resp, err := b.client.WebSearch(ctx, query, &bravesearch.WebSearchParams{
		Count: count,
	})
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	var out []SearchResult
	for _, r := range resp.GetWebResults() {
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return out, nil
}

// WebSearch returns the web_search entry point.
func WebSearch(s Searcher) entrypoint.AnnotatedFunction {
	return entrypoint.AnnotatedFunction{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs and snippets",
		Arguments: []entrypoint.ArgumentAnnotation{
			entrypoint.Arg("query", entrypoint.String("Search query")),
			entrypoint.OptionalArg("count", entrypoint.Integer("Number of results (default 5, max 20)")),
		},
		Implementation: entrypoint.MustReflect(func(ctx context.Context, query string, count int) (string, error) {
			return search(ctx, s, query, count)
		}),
	}
}

func search(ctx context.Context, s Searcher, query string, count int) (string, error) {
	if query == "" {
		return "", errors.New("query is required")
	}
	if count <= 0 {
		count = 5
	}
	count = min(count, 20)

	slog.Debug("web_search: searching", "query", query, "count", count)
	results, err := s.Search(ctx, query, count)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n%s", r.Title, r.URL, r.Description)
	}
	slog.Debug("web_search: done", "query", query, "results", len(results))
	return truncate([]byte(b.String()), 0), nil
}

// FetchURL returns the fetch_url entry point. A nil client uses an
// instrumented default with a 30s timeout.
func FetchURL(client *http.Client) entrypoint.AnnotatedFunction {
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return entrypoint.AnnotatedFunction{
		Name:        "fetch_url",
		Description: "Fetch a URL and return its text with markup removed",
		Arguments: []entrypoint.ArgumentAnnotation{
			entrypoint.Arg("url", entrypoint.String("Absolute http or https URL")),
		},
		Implementation: entrypoint.MustReflect(func(ctx context.Context, url string) (string, error) {
			return fetch(ctx, client, url)
		}),
	}
}

func fetch(ctx context.Context, client *http.Client, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("unsupported url %q", url)
	}

	slog.Debug("fetch_url: fetching", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "parley/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %s", resp.Status)
	}

	const maxBody = 100 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	text := htmlTagRe.ReplaceAllString(string(body), "")
	text = strings.Join(strings.Fields(text), " ")

	slog.Debug("fetch_url: done", "url", url, "bytes", len(text))
	return truncate([]byte(text), 0), nil
}
