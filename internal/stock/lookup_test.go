package stock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/httpx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	infos map[string]map[string]any
	errs  map[string]error
	asked []string
}

func (f *fakeProvider) Info(_ context.Context, ticker string) (map[string]any, error) {
	f.asked = append(f.asked, ticker)
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	if info, ok := f.infos[ticker]; ok {
		return info, nil
	}
	return map[string]any{}, nil
}

func fullInfo(price, cap float64) map[string]any {
	return map[string]any{
		"symbol":           "X",
		"currentPrice":     price,
		"marketCap":        cap,
		"trailingPE":       31.5,
		"dividendYield":    0.0044,
		"fiftyTwoWeekHigh": 199.62,
		"fiftyTwoWeekLow":  164.08,
	}
}

func TestSnapshotSectorQuery(t *testing.T) {
	p := &fakeProvider{infos: map[string]map[string]any{
		"AAPL":  fullInfo(191.2, 2950000000000),
		"MSFT":  fullInfo(420, 3120000000000),
		"GOOGL": fullInfo(172.35, 2100000000000),
	}}
	l := NewLookup(p, config.DefaultSectors(), nil)

	text, ok := l.Snapshot(context.Background(), "IT sector outlook")
	require.True(t, ok)
	require.Equal(t, []string{"AAPL", "MSFT", "GOOGL"}, p.asked)

	all := []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"}
	mentioned := 0
	for _, tk := range all {
		if strings.Contains(text, tk+":\n") {
			mentioned++
		}
	}
	assert.Equal(t, 3, mentioned)
	assert.Equal(t, 3, strings.Count(text, "  - Current Price: $"))
	assert.Equal(t, 3, strings.Count(text, "  - Market Cap: "))
	assert.Equal(t, 3, strings.Count(text, "  - PE Ratio: "))
	assert.Equal(t, 3, strings.Count(text, "  - 52W High/Low: $"))
	assert.True(t, strings.HasPrefix(text, "Stock Data for IT sector outlook (Sector Analysis):\nAnalyzing top stocks in this sector: AAPL, MSFT, GOOGL\n\n"))
	assert.Contains(t, text, "MSFT:\n  - Current Price: $420.0\n  - Market Cap: $3,120,000,000,000\n")
	assert.Contains(t, text, "  - 52W High/Low: $199.62 / $164.08\n\n")
}

func TestSnapshotSectorTickerError(t *testing.T) {
	p := &fakeProvider{
		infos: map[string]map[string]any{"JNJ": fullInfo(150, 0), "PFE": fullInfo(28.1, 160000000000)},
		errs:  map[string]error{"ABBV": errors.New("http 429")},
	}
	text, ok := NewLookup(p, config.DefaultSectors(), nil).Snapshot(context.Background(), "Pharma 2025")
	require.True(t, ok)
	assert.Contains(t, text, "ABBV: Error fetching data - http 429\n\n")
	assert.Contains(t, text, "JNJ:\n  - Current Price: $150.0\n  - Market Cap: N/A\n")
}

func TestSnapshotDirectTicker(t *testing.T) {
	p := &fakeProvider{infos: map[string]map[string]any{"AAPL": fullInfo(191.2, 2950000000000)}}
	text, ok := NewLookup(p, config.DefaultSectors(), nil).Snapshot(context.Background(), "AAPL")
	require.True(t, ok)
	assert.Equal(t, "Stock Info for AAPL:\n"+
		"- Current Price: $191.2\n"+
		"- Market Cap: $2,950,000,000,000\n"+
		"- PE Ratio: 31.5\n"+
		"- Dividend Yield: 0.0044\n"+
		"- 52 Week High / Low: $199.62 / $164.08\n", text)
	assert.NotContains(t, text, "No stock data available")
}

func TestSnapshotDirectTickerTooFewFields(t *testing.T) {
	p := &fakeProvider{infos: map[string]map[string]any{"ZZZZ": {"symbol": "ZZZZ", "currency": "USD"}}}
	text, ok := NewLookup(p, config.DefaultSectors(), nil).Snapshot(context.Background(), "ZZZZ")
	require.False(t, ok)
	assert.Equal(t, Guidance("ZZZZ"), text)
}

func TestSnapshotDirectTickerError(t *testing.T) {
	p := &fakeProvider{errs: map[string]error{"NASDAQ Top Stocks 2025": errors.New("bad symbol")}}
	text, ok := NewLookup(p, config.DefaultSectors(), nil).Snapshot(context.Background(), "NASDAQ Top Stocks 2025")
	require.False(t, ok)
	assert.True(t, strings.HasSuffix(text, " Error: bad symbol"))
}

func TestSectorTickersFirstMatchWins(t *testing.T) {
	l := NewLookup(&fakeProvider{}, []config.Sector{
		{Keyword: "energy", Tickers: []string{"XOM", "CVX"}},
		{Keyword: "ENERGY", Tickers: []string{"NEE"}},
	}, nil)
	assert.Equal(t, []string{"XOM", "CVX"}, l.SectorTickers("Renewable Energy trends"))
	assert.Nil(t, l.SectorTickers("banks"))
}

func TestThousands(t *testing.T) {
	assert.Equal(t, "999", thousands(999))
	assert.Equal(t, "1,000", thousands(1000))
	assert.Equal(t, "12,345,678", thousands(12345678))
	assert.Equal(t, "-1,234", thousands(-1234))
}

// fakeYahoo serves the cookie, crumb and quote endpoints and refuses quotes
// that lack the current session.
type fakeYahoo struct {
	crumb      atomic.Value
	handshakes atomic.Int32
	quotes     atomic.Int32
	body       string
}

func newFakeYahoo(t *testing.T, body string) (*fakeYahoo, *Yahoo) {
	t.Helper()
	f := &fakeYahoo{body: body}
	f.crumb.Store("crumb-1")
	mux := http.NewServeMux()
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		f.handshakes.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "session"})
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("A3"); err != nil || c.Value != "session" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(f.crumb.Load().(string)))
	})
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		f.quotes.Add(1)
		c, err := r.Cookie("A3")
		if err != nil || c.Value != "session" || r.URL.Query().Get("crumb") != f.crumb.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"finance":{"error":{"code":"Unauthorized","description":"Invalid Crumb"}}}`))
			return
		}
		_, _ = w.Write([]byte(f.body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	y := NewYahoo(httpx.New(httpx.Options{Backoff: time.Millisecond})).
		WithEndpoint(srv.URL+"/quote").
		WithSessionEndpoints(srv.URL+"/cookie", srv.URL+"/crumb")
	return f, y
}

const msftQuote = `{"quoteResponse":{"result":[{"symbol":"MSFT","regularMarketPrice":420.5,"marketCap":3120000000000,"trailingPE":36.1,"trailingAnnualDividendYield":0.007,"fiftyTwoWeekHigh":430.8,"fiftyTwoWeekLow":309.4,"displayName":null}],"error":null}}`

func TestYahooInfo(t *testing.T) {
	f, y := newFakeYahoo(t, msftQuote)
	info, err := y.Info(context.Background(), "msft")
	require.NoError(t, err)
	assert.Equal(t, 420.5, info["currentPrice"])
	assert.Equal(t, 0.007, info["dividendYield"])
	assert.NotContains(t, info, "displayName")

	_, err = y.Info(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.handshakes.Load())
	assert.EqualValues(t, 2, f.quotes.Load())
}

func TestYahooRenewsRejectedCrumb(t *testing.T) {
	f, y := newFakeYahoo(t, msftQuote)
	_, err := y.Info(context.Background(), "MSFT")
	require.NoError(t, err)

	f.crumb.Store("crumb-2")
	info, err := y.Info(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 420.5, info["currentPrice"])
	assert.EqualValues(t, 2, f.handshakes.Load())
	assert.EqualValues(t, 3, f.quotes.Load())
}

func TestYahooCrumbRefused(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	y := NewYahoo(httpx.New(httpx.Options{Backoff: time.Millisecond})).
		WithEndpoint(srv.URL+"/quote").
		WithSessionEndpoints(srv.URL+"/cookie", srv.URL+"/crumb")
	text, ok := NewLookup(y, config.DefaultSectors(), nil).Snapshot(context.Background(), "MSFT")
	require.False(t, ok)
	assert.Contains(t, text, "yahoo crumb: http 401")
}

func TestYahooUnknownTicker(t *testing.T) {
	_, y := newFakeYahoo(t, `{"quoteResponse":{"result":[],"error":null}}`)
	info, err := y.Info(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Empty(t, info)

	info, err = y.Info(context.Background(), "two words")
	require.NoError(t, err)
	assert.Empty(t, info)
}
