package activities

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"deepresearch/internal/config"
	"deepresearch/internal/models"
	"deepresearch/internal/pdf"
	"deepresearch/internal/providers"
	"deepresearch/internal/research"
	"deepresearch/internal/search"
	"deepresearch/internal/storage"
	"deepresearch/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

type stubSearcher struct{}

func (stubSearcher) Search(_ context.Context, q string, _, _ int) search.Results {
	return search.Results{
		Snippets: []string{"snippet for " + q},
		URLs:     []string{"https://a.test/" + q},
	}
}

type stubFetcher struct{}

func (stubFetcher) FetchAll(_ context.Context, urls []string) pdf.Batch {
	return pdf.Batch{Texts: []string{"pdf text"}, Succeeded: []string{"/tmp/a.pdf"}, Failed: []string{}}
}

type recordingRuns struct{ runs []models.ResearchRun }

func (r *recordingRuns) UpsertRun(_ context.Context, run models.ResearchRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type recordingAudit struct{ recs []storage.LLMCallRecord }

func (r *recordingAudit) Insert(_ context.Context, rec storage.LLMCallRecord) error {
	r.recs = append(r.recs, rec)
	return nil
}

func newTestActivities(t *testing.T, runs RunStore, audit AuditStore) (*Activities, *vector.Store) {
	t.Helper()
	cfg := config.Config{DataOutRoot: t.TempDir(), LLMProviders: "mock", EmbedProviders: "mock", EmbedDim: 16}
	pm, err := providers.NewManager(cfg)
	require.NoError(t, err)
	store := vector.NewStore(func(context.Context) (vector.Index, error) {
		return vector.NewMemoryIndex(pm, cfg.EmbedDim), nil
	}, vector.Chunking{}, nil)
	orch := research.NewOrchestrator(stubSearcher{}, stubFetcher{}, store, research.Options{}, nil)
	a, err := New(cfg, Deps{
		Providers:    pm,
		Orchestrator: orch,
		Refresher:    research.NewRefresher(stubSearcher{}, stubFetcher{}, nil, store, 0, nil),
		Index:        store,
		Runs:         runs,
		Audit:        audit,
	})
	require.NoError(t, err)
	return a, store
}

func TestNewRequiresCoreDeps(t *testing.T) {
	_, err := New(config.Config{}, Deps{})
	require.Error(t, err)
}

func TestGatherThenIndexResearch(t *testing.T) {
	a, store := newTestActivities(t, nil, nil)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.GatherActivity, GatherInput{RunID: "r1", Query: "Pharma"})
	require.NoError(t, err)
	var gathered GatherOutput
	require.NoError(t, val.Get(&gathered))
	assert.Equal(t, []string{"https://a.test/Pharma", "https://a.test/Pharma filetype:pdf"}, gathered.URLs)
	assert.Equal(t, 2, gathered.TextCount)
	assert.FileExists(t, gathered.BundlePath)
	assert.False(t, store.Initialized())

	val, err = env.ExecuteActivity(a.IndexResearchActivity, IndexResearchInput{RunID: "r1", Query: "Pharma", BundlePath: gathered.BundlePath})
	require.NoError(t, err)
	var indexed IndexResearchOutput
	require.NoError(t, val.Get(&indexed))
	assert.ElementsMatch(t, []string{"snippet for Pharma", "pdf text"}, indexed.Passages)
	assert.True(t, store.Initialized())
}

func TestIndexResearchMissingBundle(t *testing.T) {
	a, _ := newTestActivities(t, nil, nil)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.IndexResearchActivity, IndexResearchInput{Query: "q", BundlePath: filepath.Join(t.TempDir(), "nope.json")})
	require.ErrorContains(t, err, "read research bundle")
}

func TestLLMGenerateActivityUsesProvider(t *testing.T) {
	a, _ := newTestActivities(t, nil, nil)
	req := research.ClassifyRequest("Pharma 2025")
	out, err := a.LLMGenerateActivity(context.Background(), LLMGenerateInput{Operation: req.Operation, System: req.System, Prompt: req.Prompt})
	require.NoError(t, err)
	assert.Equal(t, "mock", out.ProviderName)
	assert.Equal(t, "Pharma", research.ParseClassification(out.Text).Type)

	_, err = a.LLMGenerateActivity(context.Background(), LLMGenerateInput{Operation: "plan", ProviderRef: "openai:missing"})
	require.ErrorContains(t, err, "not configured")
}

func TestSaveRunActivity(t *testing.T) {
	runs := &recordingRuns{}
	a, _ := newTestActivities(t, runs, nil)
	run := models.ResearchRun{
		RunID:      "r2",
		Query:      "IT",
		Status:     models.RunCompleted,
		Response:   "**Research Plan:**\n- a",
		FailedURLs: []string{"https://c.test/broken.pdf"},
	}

	out, err := a.SaveRunActivity(context.Background(), SaveRunInput{Run: run})
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(out.ArtifactDir, "run.json"))
	require.NoError(t, err)
	var saved models.ResearchRun
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, run.FailedURLs, saved.FailedURLs)
	body, err := os.ReadFile(filepath.Join(out.ArtifactDir, "response.md"))
	require.NoError(t, err)
	assert.Equal(t, run.Response, string(body))
	require.Len(t, runs.runs, 1)
	assert.Equal(t, "r2", runs.runs[0].RunID)
	assert.Equal(t, run.FailedURLs, runs.runs[0].FailedURLs)
}

func TestIndexTextsAndRefresh(t *testing.T) {
	a, store := newTestActivities(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, a.IndexTextsActivity(ctx, IndexTextsInput{Query: "q", Texts: []string{" ", ""}}))
	assert.False(t, store.Initialized())
	require.NoError(t, a.IndexTextsActivity(ctx, IndexTextsInput{Query: "q", Texts: []string{"Stock Data for IT"}}))
	assert.True(t, store.Initialized())

	out, err := a.RefreshQueryActivity(ctx, RefreshQueryInput{Query: "IT Sector 2025"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Indexed)
}

func TestStockSnapshotWithoutLookup(t *testing.T) {
	a, _ := newTestActivities(t, nil, nil)
	out, err := a.StockSnapshotActivity(context.Background(), StockSnapshotInput{Query: "AAPL"})
	require.NoError(t, err)
	assert.False(t, out.OK)
}

func TestLogLLMCallActivity(t *testing.T) {
	audit := &recordingAudit{}
	a, _ := newTestActivities(t, nil, audit)
	require.NoError(t, a.LogLLMCallActivity(context.Background(), LogLLMCallInput{RunID: "r", Operation: "plan", ProviderName: "mock", RequestID: "plan-0", Status: "ok"}))
	require.Len(t, audit.recs, 1)
	assert.Equal(t, "plan", audit.recs[0].Operation)
	assert.Equal(t, "plan-0", audit.recs[0].RequestID)
}
