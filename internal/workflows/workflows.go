package workflows

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/activities"
	"deepresearch/internal/models"
	"deepresearch/internal/providers"
	"deepresearch/internal/research"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetSessionStatus     = "GetSessionStatus"
	QueryGetWatchlistProgress = "GetWatchlistProgress"
	SignalConfirmResearch     = "ConfirmResearch"

	defaultConfirmTimeout = 24 * time.Hour
	defaultCyclesPerRun   = 24
)

type providerState struct {
	disabledUntil map[int]time.Time
	retries       map[string]int
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}, retries: map[string]int{}}
}

// llmRouting is how a workflow addresses its LLM providers: by index, or by
// explicit refs when the caller pins them.
type llmRouting struct {
	count    int
	refs     []string
	cooldown time.Duration
}

func llmInput(runID string, req providers.GenerateRequest) activities.LLMGenerateInput {
	return activities.LLMGenerateInput{
		RunID:     runID,
		Operation: req.Operation,
		System:    req.System,
		Prompt:    req.Prompt,
		Context:   req.Context,
	}
}

// ResearchSessionWorkflow takes one query through classify, plan, user
// confirmation, deep research and report. Its status query mirrors the
// persisted run.
func ResearchSessionWorkflow(ctx workflow.Context, input ResearchSessionInput) (string, error) {
	status := SessionStatus{
		RunID:       input.RunID,
		Query:       input.Query,
		Status:      models.RunClassifying,
		CurrentStep: "init",
		RetryCounts: map[string]int{},
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetSessionStatus, func() (SessionStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}
	confirmCh := workflow.GetSignalChannel(ctx, SignalConfirmResearch)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	// Gathering walks dozens of URLs one at a time.
	gatherCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	logger := workflow.GetLogger(ctx)

	routing := llmRouting{
		count:    defaultCount(input.LLMProviders),
		refs:     input.LLMProviderRefs,
		cooldown: durationOrDefault(input.CooldownSeconds, 900),
	}
	if len(routing.refs) > 0 {
		routing.count = len(routing.refs)
	}
	state := newProviderState()

	generate := func(step string, req providers.GenerateRequest) (activities.LLMGenerateOutput, string, error) {
		beginStep(&status, step)
		out, errType, err := callLLMWithFailover(ctx, &state, routing, llmInput(input.RunID, req), status.RetryCounts)
		if err != nil {
			status.Steps[step] = "failed"
			return out, errType, err
		}
		status.Steps[step] = "done"
		status.Providers = appendUnique(status.Providers, out.ProviderName)
		return out, "", nil
	}
	fail := func(reason string) (string, error) {
		status.Status = models.RunFailed
		status.FailReason = reason
		saveRun(ctx, status)
		logger.Warn("research session failed", "run_id", input.RunID, "reason", reason)
		return status.Status, nil
	}

	saveRun(ctx, status)
	cls, _, err := generate("classify", research.ClassifyRequest(input.Query))
	if err != nil {
		return fail("classification failed: " + err.Error())
	}
	verdict := research.ParseClassification(cls.Text)
	status.Category = verdict.Type
	status.Scope = verdict.Scope

	if verdict.OutOfScope() {
		reply, _, err := generate("general_reply", research.GeneralRequest(input.Query))
		if err != nil {
			return fail("general reply failed: " + err.Error())
		}
		status.Response = reply.Text
		status.Status = models.RunAnswered
		saveRun(ctx, status)
		return status.Status, nil
	}

	plan, _, err := generate("plan", research.PlanRequest(input.Query))
	if err != nil {
		return fail("planning failed: " + err.Error())
	}
	status.Plan = plan.Text
	status.Message = research.PlanMessage(plan.Text)

	proceed := input.AutoConfirm
	if !proceed {
		status.Status = models.RunAwaiting
		beginStep(&status, "await_confirmation")
		saveRun(ctx, status)
		proceed = awaitConfirmation(ctx, confirmCh, durationOrDefault(input.ConfirmTimeoutSeconds, int(defaultConfirmTimeout/time.Second)))
		status.Steps["await_confirmation"] = "done"
	}
	if !proceed {
		status.Status = models.RunDeclined
		status.Response = research.SkippedMessage
		saveRun(ctx, status)
		return status.Status, nil
	}

	status.Status = models.RunResearching
	saveRun(ctx, status)

	beginStep(&status, "gather")
	var gathered activities.GatherOutput
	if err := workflow.ExecuteActivity(gatherCtx, "GatherActivity", activities.GatherInput{RunID: input.RunID, Query: input.Query}).Get(ctx, &gathered); err != nil {
		status.Steps["gather"] = "failed"
		return fail("gathering failed: " + err.Error())
	}
	status.Steps["gather"] = "done"
	status.Sources = gathered.URLs
	status.FailedURLs = gathered.FailedURLs

	passages := []string{}
	if gathered.TextCount > 0 {
		beginStep(&status, "index")
		var indexed activities.IndexResearchOutput
		if err := workflow.ExecuteActivity(ctx, "IndexResearchActivity", activities.IndexResearchInput{
			RunID:      input.RunID,
			Query:      input.Query,
			BundlePath: gathered.BundlePath,
		}).Get(ctx, &indexed); err != nil {
			status.Steps["index"] = "failed"
			return fail("indexing failed: " + err.Error())
		}
		status.Steps["index"] = "done"
		passages = indexed.Passages
	}

	beginStep(&status, "stock_snapshot")
	var snap activities.StockSnapshotOutput
	if err := workflow.ExecuteActivity(ctx, "StockSnapshotActivity", activities.StockSnapshotInput{Query: input.Query}).Get(ctx, &snap); err != nil {
		status.Steps["stock_snapshot"] = "failed"
	} else {
		status.Steps["stock_snapshot"] = "done"
	}
	if snap.OK && strings.TrimSpace(snap.Text) != "" {
		passages = append(passages, snap.Text)
		_ = workflow.ExecuteActivity(ctx, "IndexTextsActivity", activities.IndexTextsInput{Query: input.Query, Texts: []string{snap.Text}}).Get(ctx, nil)
	}
	status.Passages = len(passages)
	if len(passages) == 0 {
		status.Response = research.NoResultsMessage(input.Query)
		return fail("no research text gathered")
	}

	reportReq := research.ReportRequest(input.Query, passages)
	report, errType, err := generate("report", reportReq)
	if err != nil && errType == string(providers.ErrorContext) && len(passages) > 3 {
		report, _, err = generate("report", research.ReportRequest(input.Query, passages[:3]))
	}
	if err != nil {
		return fail("report failed: " + err.Error())
	}
	status.Report = report.Text
	status.Response = research.FormatResponse(status.Plan, report.Text, status.Sources)
	status.Status = models.RunCompleted
	status.CurrentStep = "done"
	saveRun(ctx, status)
	return status.Status, nil
}

// awaitConfirmation blocks until a confirm signal arrives or timeout passes.
// A timeout counts as declined.
func awaitConfirmation(ctx workflow.Context, ch workflow.ReceiveChannel, timeout time.Duration) bool {
	timerCtx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	var (
		sig      ConfirmSignal
		received bool
	)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &sig)
		received = true
	})
	sel.AddFuture(workflow.NewTimer(timerCtx, timeout), func(workflow.Future) {})
	sel.Select(ctx)
	return received && sig.Proceed
}

// WatchlistWorkflow refreshes the index for every watched query, sleeps, and
// repeats, continuing as new every CyclesPerRun cycles.
func WatchlistWorkflow(ctx workflow.Context, input WatchlistInput) (string, error) {
	progress := WatchlistProgress{
		Completed:  input.Completed,
		Indexed:    map[string]int{},
		LastErrors: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetWatchlistProgress, func() (WatchlistProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)
	interval := durationOrDefault(input.IntervalSeconds, 3600)
	cycles := input.CyclesPerRun
	if cycles <= 0 {
		cycles = defaultCyclesPerRun
	}

	for i := 0; i < cycles; i++ {
		for _, q := range input.Queries {
			var out activities.RefreshQueryOutput
			if err := workflow.ExecuteActivity(ctx, "RefreshQueryActivity", activities.RefreshQueryInput{Query: q}).Get(ctx, &out); err != nil {
				progress.LastErrors[q] = err.Error()
				logger.Warn("watchlist refresh failed", "query", q, "error", err)
				continue
			}
			delete(progress.LastErrors, q)
			progress.Indexed[q] = out.Indexed
		}
		progress.Completed++
		progress.NextCycleAt = workflow.Now(ctx).Add(interval)
		if err := workflow.Sleep(ctx, interval); err != nil {
			return "", err
		}
	}
	input.Completed = progress.Completed
	return "", workflow.NewContinueAsNewError(ctx, WatchlistWorkflow, input)
}

func callLLMWithFailover(ctx workflow.Context, state *providerState, routing llmRouting, input activities.LLMGenerateInput, retryCounts map[string]int) (activities.LLMGenerateOutput, string, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	providerCount := defaultCount(routing.count)
	var lastErr error
	for attempt := 0; attempt < providerCount*4; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		if idx < len(routing.refs) {
			input.ProviderRef = routing.refs[idx]
		}
		var out activities.LLMGenerateOutput
		err := workflow.ExecuteActivity(ctx, "LLMGenerateActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, RunID: input.RunID, ProviderName: out.ProviderName, Model: out.Model, RequestID: fmt.Sprintf("%s-%d", input.Operation, attempt), Status: "ok"}).Get(ctx, nil)
			return out, "", nil
		}
		lastErr = err
		errType := classifyActivityError(err)
		_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, RunID: input.RunID, ProviderName: fmt.Sprintf("provider-%d", idx), RequestID: fmt.Sprintf("%s-%d", input.Operation, attempt), Status: "failed", ErrorType: string(errType)}).Get(ctx, nil)
		key := fmt.Sprintf("llm-%s-%d", input.Operation, idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, routing.cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				attempt--
			}
		case providers.ErrorContext:
			return activities.LLMGenerateOutput{}, string(providers.ErrorContext), err
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all llm providers exhausted")
	}
	return activities.LLMGenerateOutput{}, string(classifyActivityError(lastErr)), lastErr
}

// classifyActivityError classifies the activity's own failure message, not
// the activity error envelope around it.
func classifyActivityError(err error) providers.ErrorType {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return providers.ClassifyError(errors.New(appErr.Error()))
	}
	return providers.ClassifyError(err)
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

func saveRun(ctx workflow.Context, s SessionStatus) {
	run := models.ResearchRun{
		RunID:      s.RunID,
		Query:      s.Query,
		Category:   s.Category,
		Scope:      s.Scope,
		Plan:       s.Plan,
		Report:     s.Report,
		Response:   s.Response,
		Sources:    s.Sources,
		FailedURLs: s.FailedURLs,
		Passages:   s.Passages,
		Status:     s.Status,
		FailReason: s.FailReason,
	}
	_ = workflow.ExecuteActivity(ctx, "SaveRunActivity", activities.SaveRunInput{Run: run}).Get(ctx, nil)
}

func beginStep(s *SessionStatus, step string) {
	s.CurrentStep = step
	s.Steps[step] = "processing"
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
