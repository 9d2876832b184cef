package search

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMinURLs    = 15
	DefaultPDFMinURLs = 5
	DefaultPerCall    = 25
	DefaultMaxCalls   = 10
)

// Aggregator calls a Provider repeatedly until enough unique URLs have been
// collected or a call adds nothing new.
type Aggregator struct {
	provider Provider
	limiter  *rate.Limiter
	// MaxCalls caps provider calls per Search, whatever the results.
	MaxCalls int
	log      *zap.Logger
}

// NewAggregator builds an Aggregator. A nil limiter means no pacing.
func NewAggregator(p Provider, limiter *rate.Limiter, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{provider: p, limiter: limiter, MaxCalls: DefaultMaxCalls, log: log}
}

// Search never returns an error. Provider failures count as empty calls, so
// a failing provider ends the loop after one call.
func (a *Aggregator) Search(ctx context.Context, query string, minUnique, perCall int) Results {
	if perCall <= 0 {
		perCall = DefaultPerCall
	}
	maxCalls := a.MaxCalls
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}

	res := Results{Snippets: []string{}, URLs: []string{}}
	seen := make(map[string]struct{})
	for len(res.URLs) < minUnique && res.Calls < maxCalls {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				a.log.Info("search wait aborted", zap.String("query", query), zap.Error(err))
				break
			}
		} else if ctx.Err() != nil {
			break
		}

		res.Calls++
		batch, err := a.provider.TextSearch(ctx, query, perCall)
		if err != nil {
			a.log.Warn("search provider error", zap.String("query", query), zap.Int("call", res.Calls), zap.Error(err))
			batch = nil
		}

		added := 0
		for _, r := range batch {
			u := strings.TrimSpace(r.URL)
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			res.URLs = append(res.URLs, u)
			res.Snippets = append(res.Snippets, r.Snippet)
			added++
		}
		if added == 0 {
			break
		}
	}

	a.log.Info("search complete",
		zap.String("query", query),
		zap.Int("unique_urls", len(res.URLs)),
		zap.Int("min_urls", minUnique),
		zap.Int("calls", res.Calls),
	)
	return res
}

// PDFQuery biases query toward PDF documents.
func PDFQuery(query string) string {
	return strings.TrimSpace(query) + " filetype:pdf"
}
