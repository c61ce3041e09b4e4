package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapflow/internal/storage"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds concurrently running tasks.
const DefaultParallelism = 4

// TaskError is a task failure after its last attempt.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// RunResult describes a finished run.
type RunResult struct {
	Run   *core.Run
	Tasks []*core.TaskRun
}

// Task returns the task run for id, or nil.
func (r *RunResult) Task(id string) *core.TaskRun {
	for _, tr := range r.Tasks {
		if tr.TaskID == id {
			return tr
		}
	}
	return nil
}

// Scheduler executes pipelines.
type Scheduler struct {
	// Store persists runs and task transitions. Optional.
	Store       core.Store
	Resources   *Resources
	Parallelism int
	Logger      *slog.Logger
	// Now is the clock used for timestamps.
	Now func() time.Time
	// OnRunStart is called once the run is recorded, before any task starts.
	OnRunStart func(run *core.Run)
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

type taskDone struct {
	id  string
	err error
}

// Run executes p once. Tasks start as soon as all their parents have
// succeeded. A failed task marks everything downstream upstream_failed;
// cancelling ctx stops scheduling and marks unstarted tasks skipped.
// The returned error is non-nil when the run did not succeed.
func (s *Scheduler) Run(ctx context.Context, p *Pipeline, trigger core.RunTrigger) (*RunResult, error) {
	graph, err := p.Graph()
	if err != nil {
		return nil, err
	}

	run, err := s.startRun(ctx, p.ID, trigger)
	if err != nil {
		return nil, err
	}
	if s.OnRunStart != nil {
		s.OnRunStart(run)
	}
	log := s.logger().With("dag_id", p.ID, "run_id", run.ID)
	log.Info("run started", "trigger", trigger, "tasks", graph.Len())

	ids := graph.IDs()
	runs := make(map[string]*core.TaskRun, len(ids))
	result := &RunResult{Run: run}
	for _, id := range ids {
		tr := &core.TaskRun{RunID: run.ID, TaskID: id, GroupID: p.GroupOf(id), State: core.TaskStatePending}
		if s.Store != nil {
			if err := s.Store.RecordTaskRun(ctx, tr); err != nil {
				s.finishRun(context.WithoutCancel(ctx), run, err, log)
				return nil, err
			}
		} else {
			tr.ID = uuid.New().String()
		}
		runs[id] = tr
		result.Tasks = append(result.Tasks, tr)
	}

	parallelism := s.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	var workers errgroup.Group
	workers.SetLimit(parallelism)
	done := make(chan taskDone, len(ids))

	waiting := make(map[string]int, len(ids))
	for _, id := range ids {
		waiting[id] = len(graph.Parents(id))
	}

	scope := &runScope{}
	var failures []error
	running := 0
	launch := func(id string) {
		running++
		task, _ := graph.Node(id)
		tr := runs[id]
		workers.Go(func() error {
			done <- taskDone{id: id, err: s.execute(ctx, p, run, scope, task, tr, log)}
			return nil
		})
	}

	for _, id := range ids {
		if waiting[id] == 0 && ctx.Err() == nil {
			launch(id)
		}
	}

	for running > 0 {
		d := <-done
		running--

		if d.err != nil {
			failures = append(failures, &TaskError{TaskID: d.id, Err: d.err})
			if ctx.Err() != nil {
				continue
			}
			for _, down := range graph.Downstream(graph.Children(d.id)...) {
				tr := runs[down]
				if tr.State != core.TaskStatePending {
					continue
				}
				tr.State = core.TaskStateUpstreamFailed
				tr.Error = "upstream task " + d.id + " failed"
				s.persist(ctx, tr, log)
				log.Warn("task upstream failed", "task_id", down, "upstream", d.id)
			}
			continue
		}

		if ctx.Err() != nil {
			continue
		}
		for _, child := range graph.Children(d.id) {
			waiting[child]--
			if waiting[child] == 0 && runs[child].State == core.TaskStatePending {
				launch(child)
			}
		}
	}
	_ = workers.Wait()

	skipped := 0
	for _, id := range ids {
		if tr := runs[id]; tr.State == core.TaskStatePending {
			tr.State = core.TaskStateSkipped
			skipped++
			s.persist(context.WithoutCancel(ctx), tr, log)
		}
	}

	var runErr error
	switch {
	case len(failures) > 0:
		runErr = errors.Join(failures...)
	case skipped > 0:
		runErr = fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	}
	s.finishRun(context.WithoutCancel(ctx), run, runErr, log)
	if runErr != nil {
		return result, fmt.Errorf("run %s of %s failed: %w", run.ID, p.ID, runErr)
	}
	return result, nil
}

func (s *Scheduler) startRun(ctx context.Context, dagID string, trigger core.RunTrigger) (*core.Run, error) {
	if s.Store != nil {
		run, err := s.Store.CreateRun(ctx, dagID, trigger)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		return run, nil
	}
	return &core.Run{
		ID:        uuid.New().String(),
		DAGID:     dagID,
		Trigger:   trigger,
		Status:    core.RunStatusRunning,
		StartedAt: s.now(),
	}, nil
}

func (s *Scheduler) finishRun(ctx context.Context, run *core.Run, runErr error, log *slog.Logger) {
	completed := s.now()
	run.CompletedAt = &completed
	run.Status = core.RunStatusSuccess
	if runErr != nil {
		run.Status = core.RunStatusFailed
		run.Error = firstLine(runErr.Error())
	}
	if s.Store != nil {
		if err := s.Store.CompleteRun(ctx, run.ID, run.Status, run.Error); err != nil {
			log.Error("failed to record run completion", "error", err)
		}
	}
	if runErr != nil {
		log.Error("run failed", "error", runErr)
		return
	}
	log.Info("run succeeded", "duration", completed.Sub(run.StartedAt).Round(time.Millisecond))
}

// execute runs one task with retries. It owns tr until it returns.
func (s *Scheduler) execute(ctx context.Context, p *Pipeline, run *core.Run, scope *runScope, task Task, tr *core.TaskRun, log *slog.Logger) error {
	log = log.With("task_id", tr.TaskID)
	started := s.now()
	tr.StartedAt = &started
	tr.State = core.TaskStateRunning

	var err error
	for attempt := 1; ; attempt++ {
		tr.Attempts = attempt
		s.persist(ctx, tr, log)
		log.Info("task started", "attempt", attempt)

		tc := &TaskContext{
			RunID:     run.ID,
			DAGID:     p.ID,
			TaskID:    tr.TaskID,
			Attempt:   attempt,
			Logger:    log,
			Resources: s.Resources,
			store:     s.Store,
			scope:     scope,
		}
		if tc.Resources == nil {
			tc.Resources = &Resources{}
		}
		err = task.Execute(ctx, tc)
		tr.Output = tc.Output()
		if err == nil || attempt > p.Retries || ctx.Err() != nil {
			break
		}

		delay := retryDelay(p, attempt)
		log.Warn("task attempt failed, retrying",
			"attempt", attempt, "retries", p.Retries, "delay", delay,
			"retryable", storage.IsRetryable(err), "error", err)
		tr.Error = err.Error()
		if werr := sleep(ctx, delay); werr != nil {
			break
		}
	}

	completed := s.now()
	tr.CompletedAt = &completed
	tr.DurationMS = completed.Sub(started).Milliseconds()
	if err != nil {
		tr.State = core.TaskStateFailed
		tr.Error = err.Error()
		s.persist(context.WithoutCancel(ctx), tr, log)
		log.Error("task failed", "attempts", tr.Attempts, "error", err)
		return err
	}
	tr.State = core.TaskStateSuccess
	tr.Error = ""
	s.persist(ctx, tr, log)
	log.Info("task succeeded", "duration_ms", tr.DurationMS, "output", tr.Output)
	return nil
}

func (s *Scheduler) persist(ctx context.Context, tr *core.TaskRun, log *slog.Logger) {
	if s.Store == nil {
		return
	}
	if err := s.Store.UpdateTaskRun(ctx, tr); err != nil {
		log.Error("failed to persist task state", "task_id", tr.TaskID, "state", tr.State, "error", err)
	}
}

// retryDelay is RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func retryDelay(p *Pipeline, attempt int) time.Duration {
	delay := p.RetryDelay
	limit := p.MaxRetryDelay
	if limit <= 0 {
		limit = DefaultMaxRetryDelay
	}
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
