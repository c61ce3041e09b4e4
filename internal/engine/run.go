package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/notifier"
	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/internal/state"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// RunInProgressError is returned when a DAG already has an active run.
type RunInProgressError struct {
	DAGID string
	RunID string
}

func (e *RunInProgressError) Error() string {
	return fmt.Sprintf("dag %s already has run %s in progress", e.DAGID, e.RunID)
}

// RunDetail is a run with its task runs and recorded check results.
type RunDetail struct {
	Run    *core.Run          `json:"run"`
	Tasks  []*core.TaskRun    `json:"tasks"`
	Checks []core.CheckResult `json:"checks"`
}

func (e *Engine) scheduler(onStart func(*core.Run)) *pipeline.Scheduler {
	return &pipeline.Scheduler{
		Store:       e.store,
		Resources:   e.res,
		Parallelism: e.cfg.Parallelism,
		Logger:      e.logger,
		OnRunStart:  onStart,
	}
}

// prepare validates a DAG and claims its run slot. release must be called
// once the run is over.
func (e *Engine) prepare(dagID string) (p *pipeline.Pipeline, release func(), err error) {
	p, err = e.Validate(dagID)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if runID, busy := e.running[dagID]; busy {
		return nil, nil, &RunInProgressError{DAGID: dagID, RunID: runID}
	}
	e.running[dagID] = ""
	release = func() {
		e.mu.Lock()
		delete(e.running, dagID)
		e.mu.Unlock()
	}
	return p, release, nil
}

func (e *Engine) started(dagID string, run *core.Run) {
	e.mu.Lock()
	e.running[dagID] = run.ID
	e.mu.Unlock()
	e.events.Publish(notifier.Event{
		Type: notifier.RunStarted, DAGID: dagID, RunID: run.ID, Status: string(run.Status),
	})
}

// finished publishes the outcome of a run that was recorded.
func (e *Engine) finished(dagID string, result *pipeline.RunResult, err error) {
	if result == nil || result.Run == nil {
		return
	}
	ev := notifier.Event{
		Type: notifier.RunFinished, DAGID: dagID, RunID: result.Run.ID, Status: string(result.Run.Status),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.events.Publish(ev)
}

// Run validates and runs a DAG, blocking until it finishes. The result is
// returned even when the run fails.
func (e *Engine) Run(ctx context.Context, dagID string, trigger core.RunTrigger) (*pipeline.RunResult, error) {
	p, release, err := e.prepare(dagID)
	if err != nil {
		return nil, err
	}
	defer release()
	result, err := e.scheduler(func(run *core.Run) { e.started(dagID, run) }).Run(ctx, p, trigger)
	e.finished(dagID, result, err)
	return result, err
}

// Start validates a DAG and runs it in the background. It returns once the
// run is recorded. The run continues after ctx is done; it stops when
// stop is cancelled.
func (e *Engine) Start(ctx, stop context.Context, dagID string, trigger core.RunTrigger) (*core.Run, error) {
	p, release, err := e.prepare(dagID)
	if err != nil {
		return nil, err
	}

	recorded := make(chan core.Run, 1)
	failed := make(chan error, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()
		result, err := e.scheduler(func(run *core.Run) {
			e.started(dagID, run)
			recorded <- *run
		}).Run(stop, p, trigger)
		e.finished(dagID, result, err)
		if err != nil {
			failed <- err
		}
	}()

	select {
	case run := <-recorded:
		return &run, nil
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveRun returns the id of the DAG's running run, if any.
func (e *Engine) ActiveRun(dagID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.running[dagID]
	return id, ok && id != ""
}

// Runs lists recent runs, newest first. An empty dagID lists all DAGs.
func (e *Engine) Runs(ctx context.Context, dagID string, limit int) ([]*core.Run, error) {
	return e.store.ListRuns(ctx, dagID, limit)
}

// RunDetail loads a run with its task runs and check results.
func (e *Engine) RunDetail(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.store.GetTaskRunsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	checks, err := e.store.GetCheckResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Tasks: tasks, Checks: checks}, nil
}

// IsNotFound reports whether err means a run does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}
