package research

import (
	"context"
	"fmt"
	"time"

	"deepresearch/internal/search"

	"go.uber.org/zap"
)

const (
	DefaultWatchInterval = time.Hour
	DefaultWatchPerCall  = 30
)

// Refresher keeps the index warm for a fixed list of queries.
type Refresher struct {
	searcher Searcher
	fetcher  PDFFetcher
	stock    Snapshotter
	index    TextIndex
	perCall  int
	log      *zap.Logger
}

func NewRefresher(s Searcher, f PDFFetcher, stock Snapshotter, idx TextIndex, perCall int, log *zap.Logger) *Refresher {
	if perCall <= 0 {
		perCall = DefaultWatchPerCall
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{searcher: s, fetcher: f, stock: stock, index: idx, perCall: perCall, log: log}
}

// RefreshOnce gathers search snippets, PDF text and the stock snapshot for
// query and indexes them. It returns how many texts were indexed.
func (r *Refresher) RefreshOnce(ctx context.Context, query string) (int, error) {
	res := r.searcher.Search(ctx, query, search.DefaultMinURLs, r.perCall)
	batch := r.fetcher.FetchAll(ctx, res.URLs)
	items := make([]any, 0, len(res.Snippets)+len(batch.Texts)+1)
	items = append(items, Strings(res.Snippets)...)
	items = append(items, Strings(batch.Texts)...)
	if r.stock != nil {
		if snap, ok := r.stock.Snapshot(ctx, query); ok {
			items = append(items, snap)
		}
	}
	texts := FlattenAndCleanTexts(items)
	if len(texts) == 0 {
		return 0, nil
	}
	if err := r.index.AddTexts(ctx, texts, map[string]any{"query": query}); err != nil {
		return 0, fmt.Errorf("refresh %q: %w", query, err)
	}
	return len(texts), nil
}

// Cycle refreshes every query once. A failing query is logged and skipped.
func (r *Refresher) Cycle(ctx context.Context, queries []string) int {
	total := 0
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		n, err := r.RefreshOnce(ctx, q)
		if err != nil {
			r.log.Warn("watchlist refresh failed", zap.String("query", q), zap.Error(err))
			continue
		}
		total += n
	}
	r.log.Info("watchlist cycle done", zap.Int("queries", len(queries)), zap.Int("texts", total))
	return total
}

// Watch runs a cycle immediately and then every interval until ctx ends.
func (r *Refresher) Watch(ctx context.Context, queries []string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.Cycle(ctx, queries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
