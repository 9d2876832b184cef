package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"deepresearch/internal/activities"
	"deepresearch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

// scriptedLLM answers each pipeline operation with canned text.
func scriptedLLM(classify string) func(context.Context, activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
	return func(_ context.Context, in activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		text := map[string]string{
			"classify": classify,
			"plan":     "- Compare margins\n- Review guidance",
			"report":   "## Outlook\nStable.",
			"general":  "Hello! Ask me about a sector.",
		}[in.Operation]
		return activities.LLMGenerateOutput{Text: text, ProviderName: "mock", Model: "mock-llm-v1"}, nil
	}
}

type sessionEnv struct {
	env      *testsuite.TestWorkflowEnvironment
	gathered int
	saved    []models.ResearchRun
}

func newSessionEnv(t *testing.T, classify string, gather activities.GatherOutput, snap activities.StockSnapshotOutput) *sessionEnv {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	s := &sessionEnv{env: ts.NewTestWorkflowEnvironment()}
	env := s.env
	env.RegisterWorkflow(ResearchSessionWorkflow)
	registerActivityName(env, "LLMGenerateActivity", func(context.Context, activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		return activities.LLMGenerateOutput{}, nil
	})
	registerActivityName(env, "LogLLMCallActivity", func(context.Context, activities.LogLLMCallInput) error { return nil })
	registerActivityName(env, "SaveRunActivity", func(context.Context, activities.SaveRunInput) (activities.SaveRunOutput, error) {
		return activities.SaveRunOutput{}, nil
	})
	registerActivityName(env, "GatherActivity", func(context.Context, activities.GatherInput) (activities.GatherOutput, error) {
		return activities.GatherOutput{}, nil
	})
	registerActivityName(env, "IndexResearchActivity", func(context.Context, activities.IndexResearchInput) (activities.IndexResearchOutput, error) {
		return activities.IndexResearchOutput{}, nil
	})
	registerActivityName(env, "StockSnapshotActivity", func(context.Context, activities.StockSnapshotInput) (activities.StockSnapshotOutput, error) {
		return activities.StockSnapshotOutput{}, nil
	})
	registerActivityName(env, "IndexTextsActivity", func(context.Context, activities.IndexTextsInput) error { return nil })

	env.OnActivity("LLMGenerateActivity", mock.Anything, mock.Anything).Return(scriptedLLM(classify))
	env.OnActivity("LogLLMCallActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("SaveRunActivity", mock.Anything, mock.Anything).Return(func(_ context.Context, in activities.SaveRunInput) (activities.SaveRunOutput, error) {
		s.saved = append(s.saved, in.Run)
		return activities.SaveRunOutput{}, nil
	})
	env.OnActivity("GatherActivity", mock.Anything, mock.Anything).Return(func(context.Context, activities.GatherInput) (activities.GatherOutput, error) {
		s.gathered++
		return gather, nil
	})
	env.OnActivity("IndexResearchActivity", mock.Anything, mock.Anything).Return(activities.IndexResearchOutput{Passages: []string{"IT revenue grew 8%", "Hiring slowed"}}, nil)
	env.OnActivity("StockSnapshotActivity", mock.Anything, mock.Anything).Return(snap, nil)
	env.OnActivity("IndexTextsActivity", mock.Anything, mock.Anything).Return(nil)
	return s
}

func (s *sessionEnv) result(t *testing.T) (string, SessionStatus) {
	t.Helper()
	require.True(t, s.env.IsWorkflowCompleted())
	require.NoError(t, s.env.GetWorkflowError())
	var out string
	require.NoError(t, s.env.GetWorkflowResult(&out))
	val, err := s.env.QueryWorkflow(QueryGetSessionStatus)
	require.NoError(t, err)
	var st SessionStatus
	require.NoError(t, val.Get(&st))
	return out, st
}

var inScope = `{"type": "IT", "scope": "In-Scope"}`

var gathered = activities.GatherOutput{
	BundlePath: "/tmp/bundle.json",
	URLs:       []string{"https://a.test/report.pdf", "https://b.test/news"},
	TextCount:  5,
	FailedURLs: []string{"https://c.test/broken.pdf"},
}

func TestResearchSessionAutoConfirm(t *testing.T) {
	s := newSessionEnv(t, inScope, gathered, activities.StockSnapshotOutput{Text: "Stock Data for IT", OK: true})
	s.env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r1", Query: "IT sector outlook", AutoConfirm: true})

	out, st := s.result(t)
	require.Equal(t, models.RunCompleted, out)
	require.Equal(t, "IT", st.Category)
	require.Equal(t, 3, st.Passages)
	require.Equal(t, gathered.URLs, st.Sources)
	require.True(t, strings.HasPrefix(st.Response, "**Research Plan:**\n- Compare margins"))
	require.True(t, strings.HasSuffix(st.Response, "**Sources:**\nhttps://a.test/report.pdf\nhttps://b.test/news"))
	require.Equal(t, []string{"mock"}, st.Providers)
	require.Equal(t, []string{"https://c.test/broken.pdf"}, st.FailedURLs)
	last := s.saved[len(s.saved)-1]
	require.Equal(t, models.RunCompleted, last.Status)
	require.Equal(t, []string{"https://c.test/broken.pdf"}, last.FailedURLs)
}

func TestResearchSessionOutOfScope(t *testing.T) {
	s := newSessionEnv(t, `{"type": "General Conversation", "scope": "Out-of-Scope"}`, gathered, activities.StockSnapshotOutput{})
	s.env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r2", Query: "hello"})

	out, st := s.result(t)
	require.Equal(t, models.RunAnswered, out)
	require.Equal(t, "Hello! Ask me about a sector.", st.Response)
	require.Empty(t, st.Plan)
	require.Zero(t, s.gathered)
}

func TestResearchSessionConfirmedBySignal(t *testing.T) {
	s := newSessionEnv(t, inScope, gathered, activities.StockSnapshotOutput{})
	s.env.RegisterDelayedCallback(func() {
		val, err := s.env.QueryWorkflow(QueryGetSessionStatus)
		if assert.NoError(t, err) {
			var st SessionStatus
			assert.NoError(t, val.Get(&st))
			assert.Equal(t, models.RunAwaiting, st.Status)
			assert.Contains(t, st.Message, "Proceed with deep research? (Yes / No)")
		}
		s.env.SignalWorkflow(SignalConfirmResearch, ConfirmSignal{Proceed: true})
	}, time.Minute)
	s.env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r3", Query: "IT sector outlook"})

	out, st := s.result(t)
	require.Equal(t, models.RunCompleted, out)
	require.Equal(t, 2, st.Passages)
	require.Equal(t, 1, s.gathered)
}

func TestResearchSessionDeclined(t *testing.T) {
	s := newSessionEnv(t, inScope, gathered, activities.StockSnapshotOutput{})
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalConfirmResearch, ConfirmSignal{Proceed: false})
	}, time.Minute)
	s.env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r4", Query: "IT sector outlook"})

	out, st := s.result(t)
	require.Equal(t, models.RunDeclined, out)
	require.Equal(t, "Research skipped. You can ask another query.", st.Response)
	require.Zero(t, s.gathered)
}

func TestResearchSessionConfirmTimeoutDeclines(t *testing.T) {
	s := newSessionEnv(t, inScope, gathered, activities.StockSnapshotOutput{})
	s.env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r5", Query: "IT sector outlook", ConfirmTimeoutSeconds: 60})

	out, _ := s.result(t)
	require.Equal(t, models.RunDeclined, out)
	require.Zero(t, s.gathered)
}

func TestResearchSessionNothingGatheredFails(t *testing.T) {
	s := newSessionEnv(t, inScope, activities.GatherOutput{URLs: []string{"https://x.test"}}, activities.StockSnapshotOutput{Text: "No stock data available", OK: false})
	s.env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r6", Query: "IT sector outlook", AutoConfirm: true})

	out, st := s.result(t)
	require.Equal(t, models.RunFailed, out)
	require.Equal(t, "no research text gathered", st.FailReason)
	require.Equal(t, models.RunFailed, s.saved[len(s.saved)-1].Status)
}

func TestResearchSessionFailsOverToSecondProvider(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchSessionWorkflow)
	registerActivityName(env, "LLMGenerateActivity", func(context.Context, activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		return activities.LLMGenerateOutput{}, nil
	})
	registerActivityName(env, "LogLLMCallActivity", func(context.Context, activities.LogLLMCallInput) error { return nil })
	registerActivityName(env, "SaveRunActivity", func(context.Context, activities.SaveRunInput) (activities.SaveRunOutput, error) {
		return activities.SaveRunOutput{}, nil
	})

	used := map[int]int{}
	env.OnActivity("LLMGenerateActivity", mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		used[in.ProviderIndex]++
		if in.ProviderIndex == 0 {
			return activities.LLMGenerateOutput{}, errors.New("insufficient_quota")
		}
		return scriptedLLM(`{"type": "Out-of-Scope", "scope": "Out-of-Scope"}`)(ctx, in)
	})
	env.OnActivity("LogLLMCallActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("SaveRunActivity", mock.Anything, mock.Anything).Return(activities.SaveRunOutput{}, nil)

	env.ExecuteWorkflow(ResearchSessionWorkflow, ResearchSessionInput{RunID: "r7", Query: "hi", LLMProviders: 2, CooldownSeconds: 600})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.RunAnswered, out)
	require.Equal(t, 2, used[1])
	// Provider 0 stays disabled for the cooldown after the first quota error.
	require.LessOrEqual(t, used[0], 2)
}

func TestWatchlistWorkflowContinuesAsNew(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(WatchlistWorkflow)
	registerActivityName(env, "RefreshQueryActivity", func(context.Context, activities.RefreshQueryInput) (activities.RefreshQueryOutput, error) {
		return activities.RefreshQueryOutput{}, nil
	})
	env.OnActivity("RefreshQueryActivity", mock.Anything, activities.RefreshQueryInput{Query: "IT Sector 2025"}).Return(activities.RefreshQueryOutput{Indexed: 12}, nil)
	env.OnActivity("RefreshQueryActivity", mock.Anything, activities.RefreshQueryInput{Query: "Pharma 2025"}).Return(activities.RefreshQueryOutput{}, errors.New("embedding provider down"))

	env.ExecuteWorkflow(WatchlistWorkflow, WatchlistInput{Queries: []string{"IT Sector 2025", "Pharma 2025"}, IntervalSeconds: 60, CyclesPerRun: 2})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.True(t, workflow.IsContinueAsNewError(err))

	val, err := env.QueryWorkflow(QueryGetWatchlistProgress)
	require.NoError(t, err)
	var p WatchlistProgress
	require.NoError(t, val.Get(&p))
	require.Equal(t, 2, p.Completed)
	require.Equal(t, 12, p.Indexed["IT Sector 2025"])
	require.Contains(t, p.LastErrors["Pharma 2025"], "embedding provider down")
}
