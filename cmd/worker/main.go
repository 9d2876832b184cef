package main

import (
	"context"
	"os"

	"deepresearch/internal/activities"
	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/pipeline"
	"deepresearch/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
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

	p, err := pipeline.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("build pipeline", zap.Error(err))
	}
	defer p.Close()

	deps := activities.Deps{
		Providers:    p.Providers,
		Orchestrator: p.Orchestrator,
		Refresher:    p.Refresher,
		Stock:        p.Stock,
		Index:        p.Store,
		Log:          log.Named("activities"),
	}
	if p.Runs != nil {
		deps.Runs = p.Runs
		deps.Audit = p.Audit
	}
	a, err := activities.New(cfg, deps)
	if err != nil {
		log.Fatal("init activities", zap.Error(err))
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, a)

	log.Info("worker listening",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
		zap.String("index_backend", cfg.IndexBackend))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}
