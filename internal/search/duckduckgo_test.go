package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deepresearch/internal/httpx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="results">
  <div class="result results_links results_links_deep web-result">
    <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.nasscom.in%2Freport.pdf&amp;rut=abc">IT outlook</a></h2>
    <a class="result__snippet" href="#">Indian <b>IT sector</b> revenue to grow</a>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://pharma.test/q3">Pharma Q3</a></h2>
    <a class="result__snippet" href="#">Generics pricing pressure eases</a>
  </div>
  <div class="result results_links web-result">
    <h2>no link here</h2>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://third.test/">Third</a></h2>
  </div>
</div>
</body></html>`

func TestParseResults(t *testing.T) {
	got, err := parseResults(resultsPage, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, SearchResult{URL: "https://www.nasscom.in/report.pdf", Snippet: "Indian IT sector revenue to grow"}, got[0])
	assert.Equal(t, "https://pharma.test/q3", got[1].URL)
	assert.Equal(t, "", got[2].Snippet)
}

func TestParseResultsRespectsMax(t *testing.T) {
	got, err := parseResults(resultsPage, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestUnwrapRedirect(t *testing.T) {
	assert.Equal(t, "https://a.test/x?y=1", unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.test%2Fx%3Fy%3D1&rut=z"))
	assert.Equal(t, "https://plain.test", unwrapRedirect("https://plain.test"))
}

func TestDuckDuckGoTextSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	ddg := NewDuckDuckGo(httpx.New(httpx.Options{Backoff: time.Millisecond})).WithEndpoint(srv.URL + "/html/")
	got, err := ddg.TextSearch(context.Background(), "IT sector filetype:pdf", 25)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "IT sector filetype:pdf", gotQuery)
}

func TestDuckDuckGoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ddg := NewDuckDuckGo(httpx.New(httpx.Options{Backoff: time.Millisecond})).WithEndpoint(srv.URL)
	_, err := ddg.TextSearch(context.Background(), "q", 5)
	require.Error(t, err)
}
