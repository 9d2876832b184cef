package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/models"
	"deepresearch/internal/storage"
	"deepresearch/internal/workflows"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
)

type fakeSessions struct {
	started   []workflows.ResearchSessionInput
	statuses  map[string]workflows.SessionStatus
	confirms  map[string]bool
	startErr  error
	watchErr  error
	watchlist *workflows.WatchlistInput
}

func (f *fakeSessions) Start(_ context.Context, in workflows.ResearchSessionInput) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, in)
	return sessionWorkflowID(in.RunID), nil
}

func (f *fakeSessions) Status(_ context.Context, runID string) (workflows.SessionStatus, error) {
	st, ok := f.statuses[runID]
	if !ok {
		return st, ErrSessionNotFound
	}
	return st, nil
}

func (f *fakeSessions) Confirm(_ context.Context, runID string, proceed bool) error {
	if _, ok := f.statuses[runID]; !ok {
		return ErrSessionNotFound
	}
	f.confirms[runID] = proceed
	return nil
}

func (f *fakeSessions) StartWatchlist(_ context.Context, in workflows.WatchlistInput) (string, error) {
	if f.watchErr != nil {
		return "", f.watchErr
	}
	f.watchlist = &in
	return "run-1", nil
}

func (f *fakeSessions) WatchlistProgress(context.Context) (workflows.WatchlistProgress, error) {
	if f.watchlist == nil {
		return workflows.WatchlistProgress{}, ErrSessionNotFound
	}
	return workflows.WatchlistProgress{Completed: 1}, nil
}

type fakeStock struct{}

func (fakeStock) Snapshot(_ context.Context, q string) (string, bool) {
	if q == "AAPL" {
		return "Stock Info for AAPL:\n", true
	}
	return "No stock data available for " + q, false
}

type fakeRuns struct {
	runs map[string]models.ResearchRun
}

func (f fakeRuns) GetRun(_ context.Context, id string) (models.ResearchRun, error) {
	r, ok := f.runs[id]
	if !ok {
		return r, storage.ErrRunNotFound
	}
	return r, nil
}

func (f fakeRuns) ListRuns(context.Context, int) ([]models.ResearchRun, error) {
	out := []models.ResearchRun{}
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func newTestServer(sessions *fakeSessions, runs RunReader) http.Handler {
	cfg := config.Config{Watchlist: config.DefaultWatchlist(), WatchInterval: time.Hour}
	return NewServer(cfg, Deps{Sessions: sessions, Stock: fakeStock{}, Runs: runs, LLMProviders: 2}).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestStartResearch(t *testing.T) {
	s := &fakeSessions{}
	h := newTestServer(s, nil)

	rec, out := do(t, h, http.MethodPost, "/research", `{"query":"  Pharma 2025  "}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.started, 1)
	assert.Equal(t, "Pharma 2025", s.started[0].Query)
	assert.Equal(t, 2, s.started[0].LLMProviders)
	assert.Equal(t, s.started[0].RunID, out["run_id"])
	assert.Equal(t, "research-"+s.started[0].RunID, out["workflow_id"])
}

func TestStartResearchValidation(t *testing.T) {
	h := newTestServer(&fakeSessions{}, nil)

	rec, out := do(t, h, http.MethodPost, "/research", `{"query":" "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "A research query is required.", out["error"].(map[string]any)["message"])

	rec, out = do(t, h, http.MethodPost, "/research", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DR-API-4001", out["error"].(map[string]any)["code"])

	rec, _ = do(t, h, http.MethodDelete, "/research", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartResearchConflict(t *testing.T) {
	h := newTestServer(&fakeSessions{startErr: fmt.Errorf("%w: research-x", ErrSessionExists)}, nil)
	rec, out := do(t, h, http.MethodPost, "/research", `{"query":"IT"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DR-API-4009", out["error"].(map[string]any)["code"])
}

func TestStartResearchWorkflowServiceDown(t *testing.T) {
	h := newTestServer(&fakeSessions{startErr: errors.New("connection refused")}, nil)
	rec, out := do(t, h, http.MethodPost, "/research", `{"query":"IT"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "DR-API-5020", out["error"].(map[string]any)["code"])
}

func TestStartWatchlistErrors(t *testing.T) {
	h := newTestServer(&fakeSessions{watchErr: ErrSessionExists}, nil)
	rec, _ := do(t, h, http.MethodPost, "/watchlist", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	h = newTestServer(&fakeSessions{watchErr: errors.New("unavailable")}, nil)
	rec, out := do(t, h, http.MethodPost, "/watchlist", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "DR-API-5020", out["error"].(map[string]any)["code"])
}

func TestAlreadyStartedMapsToSessionExists(t *testing.T) {
	err := alreadyStarted(serviceerror.NewWorkflowExecutionAlreadyStarted("running", "req", "run"))
	assert.ErrorIs(t, err, ErrSessionExists)

	other := errors.New("deadline exceeded")
	assert.Equal(t, other, alreadyStarted(other))
}

func TestResearchStatusAndConfirm(t *testing.T) {
	s := &fakeSessions{
		statuses: map[string]workflows.SessionStatus{"r1": {RunID: "r1", Status: models.RunAwaiting, Plan: "- a"}},
		confirms: map[string]bool{},
	}
	h := newTestServer(s, nil)

	rec, out := do(t, h, http.MethodGet, "/research/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RunAwaiting, out["status"])

	rec, _ = do(t, h, http.MethodPost, "/research/r1/confirm", `{"proceed": false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	proceed, ok := s.confirms["r1"]
	require.True(t, ok)
	assert.False(t, proceed)

	rec, _ = do(t, h, http.MethodPost, "/research/r1/confirm", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/research/missing/confirm", `{"proceed": true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResearchStatusFallsBackToStoredRun(t *testing.T) {
	runs := fakeRuns{runs: map[string]models.ResearchRun{"old": {RunID: "old", Status: models.RunCompleted}}}
	h := newTestServer(&fakeSessions{}, runs)

	rec, out := do(t, h, http.MethodGet, "/research/old", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RunCompleted, out["status"])

	rec, _ = do(t, h, http.MethodGet, "/research/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = do(t, h, http.MethodGet, "/research", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["runs"], 1)
}

func TestStockEndpoint(t *testing.T) {
	h := newTestServer(&fakeSessions{}, nil)

	rec, out := do(t, h, http.MethodGet, "/stock?q=AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["available"])

	rec, out = do(t, h, http.MethodGet, "/stock?q=ZZZZ", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["available"])

	rec, _ = do(t, h, http.MethodGet, "/stock", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistEndpoints(t *testing.T) {
	s := &fakeSessions{}
	h := newTestServer(s, nil)

	rec, _ := do(t, h, http.MethodGet, "/watchlist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/watchlist", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, s.watchlist)
	assert.Equal(t, config.DefaultWatchlist(), s.watchlist.Queries)
	assert.Equal(t, 3600, s.watchlist.IntervalSeconds)

	rec, out := do(t, h, http.MethodGet, "/watchlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["completed_cycles"])
}

func TestCORSPreflight(t *testing.T) {
	rec, _ := do(t, newTestServer(&fakeSessions{}, nil), http.MethodOptions, "/research", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
