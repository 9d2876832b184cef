package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepresearch/internal/httpx"

	"golang.org/x/net/html"
)

const (
	duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"
	maxPageBytes       = 1 << 20
)

// DuckDuckGo scrapes the HTML results page. It needs no API key.
type DuckDuckGo struct {
	client   *httpx.Client
	endpoint string
	timeout  time.Duration
}

func NewDuckDuckGo(client *httpx.Client) *DuckDuckGo {
	return &DuckDuckGo{client: client, endpoint: duckDuckGoEndpoint, timeout: 30 * time.Second}
}

// WithEndpoint points the provider at another results page, mostly for tests.
func (d *DuckDuckGo) WithEndpoint(endpoint string) *DuckDuckGo {
	d.endpoint = endpoint
	return d
}

func (d *DuckDuckGo) TextSearch(ctx context.Context, query string, max int) ([]SearchResult, error) {
	resp, err := d.client.Get(ctx, d.endpoint+"?q="+url.QueryEscape(query), d.timeout)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo read: %w", err)
	}
	return parseResults(string(body), max)
}

func parseResults(page string, max int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	out := make([]SearchResult, 0, max)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := resultFrom(n); r.URL != "" {
					out = append(out, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func resultFrom(n *html.Node) SearchResult {
	var r SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				r.URL = unwrapRedirect(attr(n, "href"))
			case strings.Contains(class, "result__snippet"):
				r.Snippet = textOf(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r
}

// unwrapRedirect turns a //duckduckgo.com/l/?uddg=<target> link into target.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("uddg")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
