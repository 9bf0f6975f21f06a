package execution

import (
	"math"
	"time"

	"github.com/nchat/core/internal/workflow"
)

// retryDelay computes the delay between attempt n and attempt n+1,
// per spec.md §4.9's retry policy formulas, capped at
// settings.MaxRetryDelayMs when that cap is set.
func retryDelay(n int, settings workflow.StepSettings) time.Duration {
	var ms int64
	switch settings.RetryBackoff {
	case workflow.BackoffLinear:
		ms = settings.RetryDelayMs * int64(n)
	case workflow.BackoffExponential:
		ms = settings.RetryDelayMs * int64(math.Pow(2, float64(n-1)))
	default:
		ms = settings.RetryDelayMs
	}
	if settings.MaxRetryDelayMs > 0 && ms > settings.MaxRetryDelayMs {
		ms = settings.MaxRetryDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}
