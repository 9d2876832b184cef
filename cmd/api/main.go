package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"deepresearch/internal/api"
	"deepresearch/internal/config"
	"deepresearch/internal/httpx"
	"deepresearch/internal/logging"
	"deepresearch/internal/providers"
	"deepresearch/internal/stock"
	"deepresearch/internal/storage"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.LoadFile(os.Getenv("RESEARCH_CONFIG_FILE")); err != nil {
		log.Fatal("load config file", zap.Error(err))
	}

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	httpClient := httpx.New(httpx.Options{Retries: cfg.HTTPRetries, Backoff: cfg.HTTPBackoff, Logger: log.Named("http")})
	deps := api.Deps{
		Sessions:     api.NewTemporalSessions(c, cfg.TemporalTaskQueue),
		Stock:        stock.NewLookup(stock.NewYahoo(httpClient), cfg.Sectors, log.Named("stock")),
		LLMProviders: len(providers.ParseProviderList(cfg.LLMProviders)),
		Log:          log.Named("api"),
	}
	if cfg.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		cancel()
		if err != nil {
			log.Fatal("connect postgres", zap.Error(err))
		}
		defer db.Close()
		deps.Runs = storage.NewRunRepo(db)
	}

	h := api.NewServer(cfg, deps)
	log.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("llm_providers", cfg.LLMProviders))
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}
