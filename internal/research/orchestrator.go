package research

import (
	"context"
	"fmt"

	"deepresearch/internal/pdf"
	"deepresearch/internal/search"

	"go.uber.org/zap"
)

const DefaultTopK = 10

// Searcher is satisfied by *search.Aggregator.
type Searcher interface {
	Search(ctx context.Context, query string, minUnique, perCall int) search.Results
}

// PDFFetcher is satisfied by *pdf.Fetcher.
type PDFFetcher interface {
	FetchAll(ctx context.Context, urls []string) pdf.Batch
}

// TextIndex is satisfied by *vector.Store.
type TextIndex interface {
	AddTexts(ctx context.Context, texts []string, metadata map[string]any) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]string, error)
}

type Options struct {
	PlainMinURLs int
	PDFMinURLs   int
	PerCall      int
	TopK         int
}

func (o Options) withDefaults() Options {
	if o.PlainMinURLs <= 0 {
		o.PlainMinURLs = search.DefaultMinURLs
	}
	if o.PDFMinURLs <= 0 {
		o.PDFMinURLs = search.DefaultPDFMinURLs
	}
	if o.PerCall <= 0 {
		o.PerCall = search.DefaultPerCall
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	return o
}

// Bundle is everything gathered for one query before indexing. Snippets come
// before PDF texts in the flattened stream.
type Bundle struct {
	Snippets []string  `json:"snippets"`
	URLs     []string  `json:"urls"`
	PDF      pdf.Batch `json:"pdf"`
}

// Texts returns the cleaned text stream for the index.
func (b Bundle) Texts() []string {
	items := make([]any, 0, len(b.Snippets)+len(b.PDF.Texts))
	items = append(items, Strings(b.Snippets)...)
	items = append(items, Strings(b.PDF.Texts)...)
	return FlattenAndCleanTexts(items)
}

// Findings is the result of DeepResearch. The counts expose partial failures
// the pipeline otherwise swallows.
type Findings struct {
	Passages     []string `json:"passages"`
	URLs         []string `json:"urls"`
	SearchCount  int      `json:"search_count"`
	PDFSucceeded int      `json:"pdf_succeeded"`
	PDFFailed    int      `json:"pdf_failed"`
	FailedURLs   []string `json:"failed_urls"`
}

type Orchestrator struct {
	searcher Searcher
	fetcher  PDFFetcher
	index    TextIndex
	opts     Options
	log      *zap.Logger
}

func NewOrchestrator(s Searcher, f PDFFetcher, idx TextIndex, opts Options, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{searcher: s, fetcher: f, index: idx, opts: opts.withDefaults(), log: log}
}

// Gather runs the plain and PDF-biased searches and fetches PDF text for the
// union of their URLs, plain-search URLs first.
func (o *Orchestrator) Gather(ctx context.Context, query string) Bundle {
	plain := o.searcher.Search(ctx, query, o.opts.PlainMinURLs, o.opts.PerCall)
	biased := o.searcher.Search(ctx, search.PDFQuery(query), o.opts.PDFMinURLs, o.opts.PerCall)
	urls := UnionURLs(plain.URLs, biased.URLs)
	return Bundle{
		Snippets: plain.Snippets,
		URLs:     urls,
		PDF:      o.fetcher.FetchAll(ctx, urls),
	}
}

// Ingest indexes the bundle's texts under query and retrieves the top
// passages. An empty text stream leaves the index untouched.
func (o *Orchestrator) Ingest(ctx context.Context, query string, b Bundle) (Findings, error) {
	f := Findings{
		Passages:     []string{},
		URLs:         b.URLs,
		SearchCount:  len(b.Snippets),
		PDFSucceeded: len(b.PDF.Texts),
		PDFFailed:    len(b.PDF.Failed),
		FailedURLs:   b.PDF.Failed,
	}
	if f.URLs == nil {
		f.URLs = []string{}
	}
	texts := b.Texts()
	if len(texts) == 0 {
		o.log.Warn("no text gathered, skipping index", zap.String("query", query))
		return f, nil
	}
	if err := o.index.AddTexts(ctx, texts, map[string]any{"query": query}); err != nil {
		return f, fmt.Errorf("index research texts: %w", err)
	}
	passages, err := o.index.SimilaritySearch(ctx, query, o.opts.TopK)
	if err != nil {
		return f, fmt.Errorf("retrieve passages: %w", err)
	}
	f.Passages = passages
	o.log.Info("deep research complete",
		zap.String("query", query),
		zap.Int("urls", len(f.URLs)),
		zap.Int("texts", len(texts)),
		zap.Int("passages", len(passages)),
		zap.Int("pdf_failed", f.PDFFailed),
	)
	return f, nil
}

// DeepResearch gathers, indexes and retrieves for query. Only index and
// embedding faults are returned as errors.
func (o *Orchestrator) DeepResearch(ctx context.Context, query string) (Findings, error) {
	return o.Ingest(ctx, query, o.Gather(ctx, query))
}

// UnionURLs merges URL lists keeping first-seen order.
func UnionURLs(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, l := range lists {
		for _, u := range l {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}
