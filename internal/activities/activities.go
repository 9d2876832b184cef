package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/models"
	"deepresearch/internal/providers"
	"deepresearch/internal/research"
	"deepresearch/internal/storage"
	"deepresearch/internal/util"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// RunStore persists research runs. *storage.RunRepo satisfies it.
type RunStore interface {
	UpsertRun(ctx context.Context, run models.ResearchRun) error
}

// AuditStore records LLM calls. *storage.LLMAuditRepo satisfies it.
type AuditStore interface {
	Insert(ctx context.Context, rec storage.LLMCallRecord) error
}

// Deps are the pipeline components the worker builds once. Runs and Audit
// are optional; without Postgres runs are only written as artifacts.
type Deps struct {
	Providers    *providers.Manager
	Orchestrator *research.Orchestrator
	Refresher    *research.Refresher
	Stock        research.Snapshotter
	Index        research.TextIndex
	Runs         RunStore
	Audit        AuditStore
	Log          *zap.Logger
}

type Activities struct {
	cfg       config.Config
	providers *providers.Manager
	orch      *research.Orchestrator
	refresher *research.Refresher
	stock     research.Snapshotter
	index     research.TextIndex
	runs      RunStore
	audit     AuditStore
	log       *zap.Logger
}

func New(cfg config.Config, d Deps) (*Activities, error) {
	if d.Providers == nil || d.Orchestrator == nil || d.Index == nil {
		return nil, errors.New("activities need providers, orchestrator and index")
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Activities{
		cfg:       cfg,
		providers: d.Providers,
		orch:      d.Orchestrator,
		refresher: d.Refresher,
		stock:     d.Stock,
		index:     d.Index,
		runs:      d.Runs,
		audit:     d.Audit,
		log:       log,
	}, nil
}

func (a *Activities) runDir(runID string) string {
	return filepath.Join(a.cfg.DataOutRoot, "runs", runID)
}

func (a *Activities) LLMGenerateActivity(ctx context.Context, in LLMGenerateInput) (LLMGenerateOutput, error) {
	if in.ProviderRef != "" {
		if idx := a.providers.FindLLMProviderIndex(in.ProviderRef); idx >= 0 {
			in.ProviderIndex = idx
		} else {
			return LLMGenerateOutput{}, fmt.Errorf("llm provider ref not configured in worker: %s", in.ProviderRef)
		}
	}
	provider, ref := a.providers.LLMProviderByIndex(in.ProviderIndex)
	resp, info, err := provider.Generate(ctx, providers.GenerateRequest{
		Operation: in.Operation,
		System:    in.System,
		Prompt:    in.Prompt,
		Context:   in.Context,
	})
	if err != nil {
		return LLMGenerateOutput{}, fmt.Errorf("llm call via %s failed: %w", ref.Raw, err)
	}
	return LLMGenerateOutput{
		Text:         strings.TrimSpace(resp.Text),
		ProviderName: info.Name,
		Model:        info.Model,
	}, nil
}

// GatherActivity runs both searches and the PDF fetch, then writes the bundle
// under the run's artifact directory.
func (a *Activities) GatherActivity(ctx context.Context, in GatherInput) (GatherOutput, error) {
	b := a.orch.Gather(ctx, in.Query)
	if err := ctx.Err(); err != nil {
		return GatherOutput{}, err
	}
	path := filepath.Join(a.runDir(in.RunID), "bundle.json")
	if err := util.WriteJSONAtomic(path, b); err != nil {
		return GatherOutput{}, err
	}
	return GatherOutput{
		BundlePath:   path,
		URLs:         b.URLs,
		TextCount:    len(b.Texts()),
		PDFSucceeded: len(b.PDF.Texts),
		FailedURLs:   b.PDF.Failed,
	}, nil
}

// IndexResearchActivity indexes a gathered bundle and returns the passages
// closest to the query. Embedding and index faults are retried by Temporal.
func (a *Activities) IndexResearchActivity(ctx context.Context, in IndexResearchInput) (IndexResearchOutput, error) {
	raw, err := os.ReadFile(in.BundlePath)
	if err != nil {
		return IndexResearchOutput{}, temporal.NewNonRetryableApplicationError("read research bundle", "bundle_missing", err)
	}
	var b research.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return IndexResearchOutput{}, temporal.NewNonRetryableApplicationError("decode research bundle", "bundle_invalid", err)
	}
	f, err := a.orch.Ingest(ctx, in.Query, b)
	if err != nil {
		return IndexResearchOutput{}, err
	}
	return IndexResearchOutput{Passages: f.Passages}, nil
}

func (a *Activities) StockSnapshotActivity(ctx context.Context, in StockSnapshotInput) (StockSnapshotOutput, error) {
	if a.stock == nil {
		return StockSnapshotOutput{}, nil
	}
	text, ok := a.stock.Snapshot(ctx, in.Query)
	return StockSnapshotOutput{Text: text, OK: ok}, nil
}

func (a *Activities) IndexTextsActivity(ctx context.Context, in IndexTextsInput) error {
	texts := research.FlattenAndCleanTexts(research.Strings(in.Texts))
	return a.index.AddTexts(ctx, texts, map[string]any{"query": in.Query})
}

func (a *Activities) RefreshQueryActivity(ctx context.Context, in RefreshQueryInput) (RefreshQueryOutput, error) {
	if a.refresher == nil {
		return RefreshQueryOutput{}, temporal.NewNonRetryableApplicationError("watchlist refresh not configured", "no_refresher", nil)
	}
	n, err := a.refresher.RefreshOnce(ctx, in.Query)
	if err != nil {
		return RefreshQueryOutput{}, err
	}
	return RefreshQueryOutput{Indexed: n}, nil
}

// SaveRunActivity writes run.json, plus report.md once a report exists, and
// upserts the run into Postgres when configured.
func (a *Activities) SaveRunActivity(ctx context.Context, in SaveRunInput) (SaveRunOutput, error) {
	dir := a.runDir(in.Run.RunID)
	if err := util.WriteJSONAtomic(filepath.Join(dir, "run.json"), in.Run); err != nil {
		return SaveRunOutput{}, err
	}
	if in.Run.Response != "" {
		if err := util.WriteTextAtomic(filepath.Join(dir, "response.md"), in.Run.Response); err != nil {
			return SaveRunOutput{}, err
		}
	}
	if a.runs != nil {
		if err := a.runs.UpsertRun(ctx, in.Run); err != nil {
			return SaveRunOutput{}, err
		}
	}
	return SaveRunOutput{ArtifactDir: dir}, nil
}

func (a *Activities) LogLLMCallActivity(ctx context.Context, in LogLLMCallInput) error {
	a.log.Info("llm call",
		zap.String("run_id", in.RunID),
		zap.String("operation", in.Operation),
		zap.String("provider", in.ProviderName),
		zap.String("request_id", in.RequestID),
		zap.String("status", in.Status),
		zap.String("error_type", in.ErrorType),
	)
	if a.audit == nil {
		return nil
	}
	return a.audit.Insert(ctx, storage.LLMCallRecord{
		CallID:       in.CallID,
		Operation:    in.Operation,
		RunID:        in.RunID,
		ProviderName: in.ProviderName,
		Model:        in.Model,
		RequestID:    in.RequestID,
		Status:       in.Status,
		ErrorType:    in.ErrorType,
	})
}
