package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned at a step boundary once the run has been cancelled.
	ErrCancelled = errors.New("workflow cancelled")
	// ErrRunLocked means another delivery of the same workflow id holds the lease.
	ErrRunLocked = errors.New("workflow run is locked by another worker")
	// ErrRunStuck is returned once a run exhausted its attempts without converging.
	ErrRunStuck = errors.New("workflow run is stuck")
	// ErrRunNotFound means no run exists for the workflow id.
	ErrRunNotFound = errors.New("workflow run not found")
)

// StepError is the recorded failure of a step. Replays return the same StepError without
// running the step again.
type StepError struct {
	Step     string
	Message  string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %s", e.Step, e.Attempts, e.Message)
}

func (e *StepError) Unwrap() error { return e.Err }

type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable marks err as terminal: step retries stop, and a run returning it is recorded
// as FAILED and never attempted again.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriableError{err: err}
}

func IsNonRetriable(err error) bool {
	var nr *nonRetriableError
	return errors.As(err, &nr)
}
