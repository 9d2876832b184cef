// Package pipeline wires the research components from configuration. The
// worker and the CLI share it so both run the same stack.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/httpx"
	"deepresearch/internal/logging"
	"deepresearch/internal/pdf"
	"deepresearch/internal/providers"
	"deepresearch/internal/research"
	"deepresearch/internal/search"
	"deepresearch/internal/stock"
	"deepresearch/internal/storage"
	"deepresearch/internal/vector"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BackendMemory = "memory"
	BackendPG     = "pg"
	BackendChroma = "chroma"
	BackendSQLite = "sqlite"
)

type Pipeline struct {
	Providers    *providers.Manager
	Search       *search.Aggregator
	PDF          *pdf.Fetcher
	Stock        *stock.Lookup
	Store        *vector.Store
	Orchestrator *research.Orchestrator
	Refresher    *research.Refresher
	Assistant    *research.Assistant

	// DB, Runs and Audit are nil unless Postgres is configured.
	DB    *storage.DB
	Runs  *storage.RunRepo
	Audit *storage.LLMAuditRepo

	closers []func()
}

// Build connects optional services and assembles the pipeline. Postgres is
// required only for the pg index backend; Redis only enables the search
// cache and is skipped with a warning when unreachable.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*Pipeline, error) {
	log = logging.OrNop(log)
	p := &Pipeline{}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	p.Providers = pm

	if strings.TrimSpace(cfg.PostgresURL) != "" {
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
		p.DB = db
		p.Runs = storage.NewRunRepo(db)
		p.Audit = storage.NewLLMAuditRepo(db)
	}

	factory, err := p.indexFactory(cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Store = vector.NewStore(factory, vector.Chunking{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}, log.Named("vector"))

	client := httpx.New(httpx.Options{Retries: cfg.HTTPRetries, Backoff: cfg.HTTPBackoff, Logger: log.Named("http")})
	var provider search.Provider = search.NewDuckDuckGo(client)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, search cache disabled", zap.String("addr", addr), zap.Error(err))
			_ = rdb.Close()
		} else {
			p.closers = append(p.closers, func() { _ = rdb.Close() })
			provider = search.NewCachedProvider(provider, rdb, cfg.SearchTTL, log.Named("search_cache"))
		}
	}
	var limiter *rate.Limiter
	if cfg.SearchPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SearchPerSec), 1)
	}
	p.Search = search.NewAggregator(provider, limiter, log.Named("search"))

	p.PDF = pdf.NewFetcher(client, pdf.NewExtractor(log.Named("extract")), pdf.Options{
		DownloadDir: cfg.DownloadDir,
		MaxBytes:    cfg.MaxPDFBytes,
		HeadTimeout: cfg.HeadTimeout,
		GetTimeout:  cfg.GetTimeout,
	}, log.Named("pdf"))
	p.Stock = stock.NewLookup(stock.NewYahoo(client), cfg.Sectors, log.Named("stock"))

	p.Orchestrator = research.NewOrchestrator(p.Search, p.PDF, p.Store, research.Options{
		PlainMinURLs: cfg.PlainMinURLs,
		PDFMinURLs:   cfg.PDFMinURLs,
		PerCall:      cfg.PerCallURLs,
		TopK:         cfg.RetrievalTopK,
	}, log.Named("research"))
	p.Refresher = research.NewRefresher(p.Search, p.PDF, p.Stock, p.Store, research.DefaultWatchPerCall, log.Named("watch"))
	p.Assistant = research.NewAssistant(pm, p.Orchestrator, p.Stock, p.Store, log.Named("assistant"))
	return p, nil
}

func (p *Pipeline) indexFactory(cfg config.Config) (vector.IndexFactory, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.IndexBackend)) {
	case "", BackendMemory:
		return func(context.Context) (vector.Index, error) {
			return vector.NewMemoryIndex(p.Providers, cfg.EmbedDim), nil
		}, nil
	case BackendPG:
		if p.DB == nil {
			return nil, fmt.Errorf("index backend %q needs RESEARCH_POSTGRES_URL", BackendPG)
		}
		repo := storage.NewChunkRepo(p.DB)
		return func(context.Context) (vector.Index, error) {
			return vector.NewPGIndex(repo, p.Providers, cfg.EmbedDim), nil
		}, nil
	case BackendChroma:
		opts := vector.ChromaOptions{BaseURL: cfg.ChromaURL, GeminiKey: strings.TrimSpace(cfg.GeminiAPIKey)}
		if opts.GeminiKey == "" {
			return nil, fmt.Errorf("index backend %q needs GEMINI_API_KEY or GOOGLE_API_KEY", BackendChroma)
		}
		return func(ctx context.Context) (vector.Index, error) {
			return vector.NewChromaIndex(ctx, opts)
		}, nil
	case BackendSQLite:
		idx, err := vector.NewSQLiteIndex(cfg.SQLitePath, p.Providers, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { _ = idx.Close() })
		return func(context.Context) (vector.Index, error) {
			return idx, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

// Close releases connections in reverse order of opening.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
