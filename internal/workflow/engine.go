package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"discuno-payments/internal/domain/workflows"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RetryPolicy applies to a single step within one run attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy: 3 attempts, 1s then 2s between them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Engine struct {
	store          Store
	log            *logrus.Entry
	policy         RetryPolicy
	maxRunAttempts int
	lease          time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	tracer         trace.Tracer
}

type Option func(*Engine)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithMaxRunAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRunAttempts = n
		}
	}
}

func WithLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lease = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func NewEngine(store Store, log *logrus.Entry, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		log:            log,
		policy:         DefaultRetryPolicy,
		maxRunAttempts: 5,
		lease:          5 * time.Minute,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          SleepContext,
		tracer:         otel.Tracer("discuno-payments/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run is the handle a workflow function uses to execute its steps.
type Run struct {
	ID      string
	Name    string
	Attempt int

	engine       *Engine
	log          *logrus.Entry
	compensating bool
}

func (r *Run) Logger() *logrus.Entry { return r.log }

// EnterCompensation disables cancellation checks: once a saga starts unwinding, it runs
// to the end.
func (r *Run) EnterCompensation() { r.compensating = true }

func (r *Run) checkCancelled(ctx context.Context) error {
	if r.compensating {
		return nil
	}
	run, err := r.engine.store.GetRun(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", r.ID, err)
	}
	if run.Status == workflows.RunCancelled {
		return ErrCancelled
	}
	return nil
}

// Execute runs fn as the workflow instance workflowID. A finished instance is replayed from
// the store: its output (or terminal error) is returned without calling fn.
func Execute[T any](ctx context.Context, e *Engine, name, workflowID string, input any, fn func(ctx context.Context, run *Run) (T, error)) (T, error) {
	var zero T
	log := e.log.WithFields(logrus.Fields{"workflow": name, "workflow_id": workflowID})

	run, err := e.loadOrCreateRun(ctx, name, workflowID, input)
	if err != nil {
		return zero, err
	}

	switch run.Status {
	case workflows.RunCompleted:
		var out T
		if len(run.Output) > 0 {
			if err := json.Unmarshal(run.Output, &out); err != nil {
				return zero, fmt.Errorf("decode output of run %s: %w", workflowID, err)
			}
		}
		log.Info("workflow already completed, replaying output")
		return out, nil
	case workflows.RunFailed:
		log.Info("workflow already failed, replaying terminal error")
		return zero, NonRetriable(fmt.Errorf("workflow %s already failed: %s", workflowID, run.Error))
	case workflows.RunCancelled:
		return zero, ErrCancelled
	case workflows.RunStuck:
		return zero, NonRetriable(fmt.Errorf("%w: %s", ErrRunStuck, run.Error))
	}

	owner := uuid.NewString()
	now := e.now()
	acquired, err := e.store.AcquireLease(ctx, workflowID, owner, now.Add(e.lease), now)
	if err != nil {
		return zero, fmt.Errorf("acquire lease for %s: %w", workflowID, err)
	}
	if !acquired {
		return zero, ErrRunLocked
	}

	attempt := run.Attempts + 1
	log = log.WithField("attempt", attempt)
	r := &Run{ID: workflowID, Name: name, Attempt: attempt, engine: e, log: log}

	out, runErr := fn(ctx, r)
	return finish(ctx, e, r, owner, out, runErr)
}

func (e *Engine) loadOrCreateRun(ctx context.Context, name, workflowID string, input any) (*workflows.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, workflowID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, ErrRunNotFound) {
		return nil, fmt.Errorf("load run %s: %w", workflowID, err)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input of run %s: %w", workflowID, err)
	}
	if err := e.store.CreateRun(ctx, &workflows.WorkflowRun{
		WorkflowID: workflowID,
		Name:       name,
		Status:     workflows.RunRunning,
		Input:      payload,
	}); err != nil {
		return nil, fmt.Errorf("create run %s: %w", workflowID, err)
	}
	// Re-read: a concurrent delivery may have created the row first.
	run, err = e.store.GetRun(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", workflowID, err)
	}
	return run, nil
}

func finish[T any](ctx context.Context, e *Engine, r *Run, owner string, out T, runErr error) (T, error) {
	var zero T
	now := e.now()

	switch {
	case runErr == nil:
		payload, err := json.Marshal(out)
		if err != nil {
			return zero, fmt.Errorf("encode output of run %s: %w", r.ID, err)
		}
		if err := e.store.FinishRun(ctx, r.ID, owner, workflows.RunCompleted, payload, "", now); err != nil {
			return zero, fmt.Errorf("finish run %s: %w", r.ID, err)
		}
		r.log.Info("workflow completed")
		return out, nil

	case errors.Is(runErr, ErrCancelled):
		if err := e.store.FinishRun(ctx, r.ID, owner, workflows.RunCancelled, nil, runErr.Error(), now); err != nil {
			r.log.WithError(err).Error("failed to record cancelled run")
		}
		r.log.Info("workflow cancelled")
		return zero, runErr

	case IsNonRetriable(runErr):
		if err := e.store.FinishRun(ctx, r.ID, owner, workflows.RunFailed, nil, runErr.Error(), now); err != nil {
			return zero, fmt.Errorf("finish run %s: %w", r.ID, err)
		}
		r.log.WithError(runErr).Warn("workflow finished with a handled failure")
		return zero, runErr

	case r.Attempt >= e.maxRunAttempts:
		if err := e.store.FinishRun(ctx, r.ID, owner, workflows.RunStuck, nil, runErr.Error(), now); err != nil {
			r.log.WithError(err).Error("failed to record stuck run")
		}
		r.log.WithError(runErr).Error("workflow exhausted its attempts and needs an operator")
		return zero, NonRetriable(fmt.Errorf("%w after %d attempts: %w", ErrRunStuck, r.Attempt, runErr))

	default:
		if err := e.store.ReleaseLease(ctx, r.ID, owner, runErr.Error()); err != nil {
			r.log.WithError(err).Error("failed to release workflow lease")
		}
		r.log.WithError(runErr).Warn("workflow attempt failed, will resume on redelivery")
		return zero, runErr
	}
}

// Cancel stops a running instance at its next step boundary. Finished instances are not
// affected; the returned bool reports whether anything changed.
func (e *Engine) Cancel(ctx context.Context, workflowID string) (bool, error) {
	cancelled, err := e.store.CancelRun(ctx, workflowID, e.now())
	if err != nil {
		return false, fmt.Errorf("cancel run %s: %w", workflowID, err)
	}
	e.log.WithFields(logrus.Fields{"workflow_id": workflowID, "cancelled": cancelled}).Info("workflow cancel requested")
	return cancelled, nil
}

func (e *Engine) Runs(ctx context.Context, status string, limit int) ([]workflows.WorkflowRun, error) {
	return e.store.ListRuns(ctx, status, limit)
}

func (e *Engine) Inspect(ctx context.Context, workflowID string) (*workflows.WorkflowRun, []workflows.WorkflowStep, error) {
	run, err := e.store.GetRun(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := e.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}
