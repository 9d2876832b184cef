package search

import "context"

type SearchResult struct {
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Provider returns up to max results for query. Implementations may return
// fewer, or the same results again on a repeated call.
type Provider interface {
	TextSearch(ctx context.Context, query string, max int) ([]SearchResult, error)
}

// Results is what an aggregated search produced. Snippets and URLs are in
// first-seen order; URLs holds no duplicates.
type Results struct {
	Snippets []string `json:"snippets"`
	URLs     []string `json:"urls"`
	Calls    int      `json:"calls"`
}
