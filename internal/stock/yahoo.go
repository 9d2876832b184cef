package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"deepresearch/internal/httpx"
)

const (
	yahooQuoteEndpoint = "https://query1.finance.yahoo.com/v7/finance/quote"
	yahooCookieURL     = "https://fc.yahoo.com"
	yahooCrumbURL      = "https://query1.finance.yahoo.com/v1/test/getcrumb"
)

// Yahoo reads quotes from Yahoo Finance's quote endpoint. The endpoint only
// answers requests carrying a session cookie and the matching crumb, so a
// session is opened on first use and reopened once when a quote is refused.
type Yahoo struct {
	client    *httpx.Client
	endpoint  string
	cookieURL string
	crumbURL  string
	timeout   time.Duration

	mu      sync.Mutex
	crumb   string
	cookies []*http.Cookie
}

func NewYahoo(client *httpx.Client) *Yahoo {
	return &Yahoo{
		client:    client,
		endpoint:  yahooQuoteEndpoint,
		cookieURL: yahooCookieURL,
		crumbURL:  yahooCrumbURL,
		timeout:   15 * time.Second,
	}
}

func (y *Yahoo) WithEndpoint(endpoint string) *Yahoo {
	y.endpoint = endpoint
	return y
}

// WithSessionEndpoints overrides where the cookie and crumb are obtained.
func (y *Yahoo) WithSessionEndpoints(cookieURL, crumbURL string) *Yahoo {
	y.cookieURL = cookieURL
	y.crumbURL = crumbURL
	return y
}

type yahooSession struct {
	crumb  string
	header http.Header
}

func (y *Yahoo) session(ctx context.Context, refresh bool) (yahooSession, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if refresh || y.crumb == "" {
		if err := y.handshake(ctx); err != nil {
			return yahooSession{}, err
		}
	}
	return yahooSession{crumb: y.crumb, header: cookieHeader(y.cookies)}, nil
}

// handshake collects the session cookie, whatever the status of that
// response, then trades it for a crumb.
func (y *Yahoo) handshake(ctx context.Context) error {
	resp, err := y.client.Get(ctx, y.cookieURL, y.timeout)
	if err != nil {
		return fmt.Errorf("yahoo session cookie: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	cookies := resp.Cookies()

	resp, err = y.client.GetWithHeader(ctx, y.crumbURL, cookieHeader(cookies), y.timeout)
	if err != nil {
		return fmt.Errorf("yahoo crumb: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return fmt.Errorf("read yahoo crumb: %w", err)
	}
	crumb := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || crumb == "" {
		return fmt.Errorf("yahoo crumb: http %d", resp.StatusCode)
	}
	y.crumb = crumb
	y.cookies = cookies
	return nil
}

func cookieHeader(cookies []*http.Cookie) http.Header {
	h := http.Header{}
	if len(cookies) == 0 {
		return h
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	h.Set("Cookie", strings.Join(parts, "; "))
	return h
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]any `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

// aliases maps quote endpoint names onto the keys Lookup renders.
var aliases = map[string]string{
	"regularMarketPrice":          "currentPrice",
	"trailingAnnualDividendYield": "dividendYield",
}

// Info returns every non-null field of the quote. An unknown ticker yields
// an empty map, not an error.
func (y *Yahoo) Info(ctx context.Context, ticker string) (map[string]any, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" || strings.ContainsAny(ticker, " \t") {
		return map[string]any{}, nil
	}
	resp, err := y.quote(ctx, ticker, false)
	if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		resp.Body.Close()
		resp, err = y.quote(ctx, ticker, true)
	}
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", ticker, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return map[string]any{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo quote %s: http %d", ticker, resp.StatusCode)
	}

	var qr quoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode yahoo quote %s: %w", ticker, err)
	}
	if e := qr.QuoteResponse.Error; e != nil && e.Description != "" {
		return nil, fmt.Errorf("yahoo quote %s: %s", ticker, e.Description)
	}
	if len(qr.QuoteResponse.Result) == 0 {
		return map[string]any{}, nil
	}

	info := make(map[string]any, len(qr.QuoteResponse.Result[0]))
	for k, v := range qr.QuoteResponse.Result[0] {
		if v != nil {
			info[k] = v
		}
	}
	for from, to := range aliases {
		if _, ok := info[to]; ok {
			continue
		}
		if v, ok := info[from]; ok {
			info[to] = v
		}
	}
	return info, nil
}

func (y *Yahoo) quote(ctx context.Context, ticker string, refresh bool) (*http.Response, error) {
	sess, err := y.session(ctx, refresh)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbols", ticker)
	q.Set("crumb", sess.crumb)
	return y.client.GetWithHeader(ctx, y.endpoint+"?"+q.Encode(), sess.header, y.timeout)
}
