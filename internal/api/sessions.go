package api

import (
	"context"
	"errors"
	"fmt"

	"deepresearch/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
)

const watchlistWorkflowID = "watchlist"

// ErrSessionNotFound is returned when no workflow exists for a run id.
var ErrSessionNotFound = errors.New("research session not found")

// ErrSessionExists is returned when a workflow with the same id is already running.
var ErrSessionExists = errors.New("research session already started")

// Sessions starts and steers research workflows.
type Sessions interface {
	Start(ctx context.Context, in workflows.ResearchSessionInput) (string, error)
	Status(ctx context.Context, runID string) (workflows.SessionStatus, error)
	Confirm(ctx context.Context, runID string, proceed bool) error
	StartWatchlist(ctx context.Context, in workflows.WatchlistInput) (string, error)
	WatchlistProgress(ctx context.Context) (workflows.WatchlistProgress, error)
}

// TemporalSessions runs sessions as Temporal workflows.
type TemporalSessions struct {
	client    tclient.Client
	taskQueue string
}

func NewTemporalSessions(c tclient.Client, taskQueue string) *TemporalSessions {
	return &TemporalSessions{client: c, taskQueue: taskQueue}
}

func sessionWorkflowID(runID string) string {
	return "research-" + runID
}

func (t *TemporalSessions) Start(ctx context.Context, in workflows.ResearchSessionInput) (string, error) {
	we, err := t.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       sessionWorkflowID(in.RunID),
		TaskQueue:                                t.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.ResearchSessionWorkflow, in)
	if err != nil {
		return "", alreadyStarted(err)
	}
	return we.GetID(), nil
}

func (t *TemporalSessions) Status(ctx context.Context, runID string) (workflows.SessionStatus, error) {
	var st workflows.SessionStatus
	resp, err := t.client.QueryWorkflow(ctx, sessionWorkflowID(runID), "", workflows.QueryGetSessionStatus)
	if err != nil {
		return st, notFound(err)
	}
	if err := resp.Get(&st); err != nil {
		return st, err
	}
	return st, nil
}

func (t *TemporalSessions) Confirm(ctx context.Context, runID string, proceed bool) error {
	err := t.client.SignalWorkflow(ctx, sessionWorkflowID(runID), "", workflows.SignalConfirmResearch, workflows.ConfirmSignal{Proceed: proceed})
	return notFound(err)
}

func (t *TemporalSessions) StartWatchlist(ctx context.Context, in workflows.WatchlistInput) (string, error) {
	we, err := t.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       watchlistWorkflowID,
		TaskQueue:                                t.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.WatchlistWorkflow, in)
	if err != nil {
		return "", alreadyStarted(err)
	}
	return we.GetRunID(), nil
}

func (t *TemporalSessions) WatchlistProgress(ctx context.Context) (workflows.WatchlistProgress, error) {
	var p workflows.WatchlistProgress
	resp, err := t.client.QueryWorkflow(ctx, watchlistWorkflowID, "", workflows.QueryGetWatchlistProgress)
	if err != nil {
		return p, notFound(err)
	}
	err = resp.Get(&p)
	return p, err
}

func notFound(err error) error {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return ErrSessionNotFound
	}
	return err
}

func alreadyStarted(err error) error {
	var as *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &as) {
		return fmt.Errorf("%w: %s", ErrSessionExists, as.Message)
	}
	return err
}
