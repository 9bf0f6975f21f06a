package execution

import "errors"

// Sentinel errors surfaced by StartRun/RetryRun/CancelRun, matching
// the error taxonomy in spec.md §7.
var (
	ErrConcurrencyLimitExceeded = errors.New("execution: concurrency limit exceeded")
	ErrMissingInput             = errors.New("execution: required input missing")
	ErrCyclicDependency         = errors.New("execution: cyclic dependency")
	ErrUnknownAction            = errors.New("execution: unknown action type")
	ErrRunNotFound              = errors.New("execution: run not found")
	ErrNotRetryable             = errors.New("execution: run is not in a retryable state")
	ErrExecutionTimeout         = errors.New("execution: run exceeded maxExecutionTimeMs")
)

// ValidationError wraps a workflow.Validate failure encountered at
// start_run time.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "execution: workflow validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// MissingInputError names the specific input field that was required
// but absent.
type MissingInputError struct {
	Field string
}

func (e *MissingInputError) Error() string {
	return "execution: missing required input " + e.Field
}

func (e *MissingInputError) Unwrap() error {
	return ErrMissingInput
}
