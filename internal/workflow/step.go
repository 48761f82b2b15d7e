package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"discuno-payments/internal/domain/workflows"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	kindStep       = "step"
	kindCritical   = "critical"
	kindBestEffort = "best_effort"
)

// bestEffortResult is what a best-effort step records, whether or not fn succeeded.
type bestEffortResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Step runs fn at most once per run: success and exhausted failure are both checkpointed,
// and a replay returns the recorded value or the recorded *StepError.
func Step[T any](ctx context.Context, r *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return runStep(ctx, r, name, kindStep, true, fn)
}

// Critical checkpoints success only. A failure is returned to the caller and the step runs
// again on the next attempt of the run.
func Critical[T any](ctx context.Context, r *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return runStep(ctx, r, name, kindCritical, false, fn)
}

// BestEffort makes a single attempt at fn. A failure is logged and recorded like a success
// so the step is never repeated; the only error it returns is ErrCancelled.
func BestEffort(ctx context.Context, r *Run, name string, fn func(ctx context.Context) error) error {
	log := r.log.WithFields(logrus.Fields{"step": name, "kind": kindBestEffort})
	if err := r.checkCancelled(ctx); err != nil {
		if errors.Is(err, ErrCancelled) {
			return err
		}
		log.WithError(err).Warn("could not check cancellation before best-effort step")
	}

	recorded, err := r.engine.store.GetStep(ctx, r.ID, name)
	if err != nil {
		log.WithError(err).Warn("could not read step log, skipping best-effort step")
		return nil
	}
	if recorded != nil {
		log.Debug("step already recorded, skipping")
		return nil
	}

	ctx, span := r.startSpan(ctx, name, kindBestEffort)
	defer span.End()

	res := bestEffortResult{OK: true}
	if err := callSafely(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}); err != nil {
		res = bestEffortResult{OK: false, Error: err.Error()}
		span.RecordError(err)
		log.WithError(err).Warn("best-effort step failed, continuing")
	}

	payload, _ := json.Marshal(res)
	if err := r.engine.store.SaveStep(ctx, &workflows.WorkflowStep{
		WorkflowID:  r.ID,
		StepName:    name,
		Status:      workflows.StepCompleted,
		Result:      payload,
		Error:       res.Error,
		Attempts:    1,
		CompletedAt: r.engine.now(),
	}); err != nil {
		log.WithError(err).Warn("could not checkpoint best-effort step")
	}
	return nil
}

func runStep[T any](ctx context.Context, r *Run, name, kind string, memoizeFailure bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := r.checkCancelled(ctx); err != nil {
		return zero, err
	}
	log := r.log.WithFields(logrus.Fields{"step": name, "kind": kind})

	recorded, err := r.engine.store.GetStep(ctx, r.ID, name)
	if err != nil {
		return zero, fmt.Errorf("read step %s/%s: %w", r.ID, name, err)
	}
	if recorded != nil {
		return replay[T](recorded, log)
	}

	ctx, span := r.startSpan(ctx, name, kind)
	defer span.End()

	policy := r.engine.policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempts < policy.MaxAttempts {
		attempts++
		out, err := callSafelyValue(ctx, fn)
		if err == nil {
			payload, mErr := json.Marshal(out)
			if mErr != nil {
				return zero, fmt.Errorf("encode result of step %s: %w", name, mErr)
			}
			if err := r.engine.store.SaveStep(ctx, &workflows.WorkflowStep{
				WorkflowID:  r.ID,
				StepName:    name,
				Status:      workflows.StepCompleted,
				Result:      payload,
				Attempts:    attempts,
				CompletedAt: r.engine.now(),
			}); err != nil {
				return zero, fmt.Errorf("checkpoint step %s: %w", name, err)
			}
			span.SetAttributes(attribute.Int("workflow.step.attempts", attempts))
			log.WithField("attempts", attempts).Info("step completed")
			return out, nil
		}

		lastErr = err
		span.RecordError(err)
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "context done")
			return zero, ctx.Err()
		}
		if IsNonRetriable(err) || attempts == policy.MaxAttempts {
			break
		}
		wait := policy.delay(attempts)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempts, "backoff": wait.String()}).Warn("step attempt failed, retrying")
		if err := r.engine.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	span.SetStatus(codes.Error, lastErr.Error())
	stepErr := &StepError{Step: name, Message: lastErr.Error(), Attempts: attempts, Err: lastErr}
	if memoizeFailure {
		if err := r.engine.store.SaveStep(ctx, &workflows.WorkflowStep{
			WorkflowID:  r.ID,
			StepName:    name,
			Status:      workflows.StepFailed,
			Error:       lastErr.Error(),
			Attempts:    attempts,
			CompletedAt: r.engine.now(),
		}); err != nil {
			return zero, fmt.Errorf("checkpoint failed step %s: %w", name, err)
		}
	}
	log.WithError(lastErr).WithField("attempts", attempts).Error("step failed")
	return zero, stepErr
}

func replay[T any](recorded *workflows.WorkflowStep, log *logrus.Entry) (T, error) {
	var out T
	if recorded.Status == workflows.StepFailed {
		log.Debug("replaying recorded step failure")
		return out, &StepError{
			Step:     recorded.StepName,
			Message:  recorded.Error,
			Attempts: recorded.Attempts,
			Err:      errors.New(recorded.Error),
		}
	}
	if len(recorded.Result) > 0 {
		if err := json.Unmarshal(recorded.Result, &out); err != nil {
			return out, fmt.Errorf("decode recorded result of step %s: %w", recorded.StepName, err)
		}
	}
	log.Debug("replaying recorded step result")
	return out, nil
}

func (r *Run) startSpan(ctx context.Context, name, kind string) (context.Context, trace.Span) {
	return r.engine.tracer.Start(ctx, "workflow.step/"+name, trace.WithAttributes(
		attribute.String("workflow.name", r.Name),
		attribute.String("workflow.id", r.ID),
		attribute.Int("workflow.attempt", r.Attempt),
		attribute.String("workflow.step", name),
		attribute.String("workflow.step.kind", kind),
	))
}

func callSafely(ctx context.Context, fn func(ctx context.Context) (struct{}, error)) error {
	_, err := callSafelyValue(ctx, fn)
	return err
}

func callSafelyValue[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
