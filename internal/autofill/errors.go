package autofill

import "errors"

var (
	// ErrInteraction wraps a page primitive that failed while driving one field.
	ErrInteraction = errors.New("interaction failed")
	// ErrNoFormFound means extraction found no fillable control in any scope.
	ErrNoFormFound = errors.New("no fillable form found")
	// ErrNoProceedControl means no element matched the progress vocabulary.
	ErrNoProceedControl = errors.New("no proceed control found")
	// ErrStalledProgress means the page did not change after activation.
	ErrStalledProgress = errors.New("progress stalled")
	// ErrStepLimit means the flow visited the configured maximum of steps.
	ErrStepLimit = errors.New("step limit reached")
	// ErrIdle means no new form content appeared after a step change.
	ErrIdle = errors.New("no form content appeared")
)
