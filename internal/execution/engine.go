// Package execution implements the DAG-topological workflow execution
// engine: the start_run contract, retry policy, action dispatch,
// idempotency tracking, concurrency limiting, timeouts, and audit
// emission described in spec.md §4.9. Grounded on
// internal/plan/sop_graph.go's node/edge shape (generalized by
// topo.go's Kahn's-algorithm sort), the pack example
// 8dbc5823_..._dag_engine.go.go's WorkflowExecution/TaskResult/
// RetryPolicy naming, internal/circuitbreaker/breaker.go's retry/
// backoff control flow, and internal/audit.Log's CloudEvent audit
// emission.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nchat/core/internal/approval"
	"github.com/nchat/core/internal/audit"
	"github.com/nchat/core/internal/trigger"
	"github.com/nchat/core/internal/workflow"
)

const approvalPollInterval = 50 * time.Millisecond

// Engine orchestrates workflow runs. Every shared store (runs,
// per-workflow active counts, idempotency keys) sits behind one
// coarse mutex, the same idiom as internal/circuitbreaker.Manager and
// internal/registry.Registry.
type Engine struct {
	mu               sync.Mutex
	runs             map[string]*Run
	activeByWorkflow map[string]int
	handlers         map[workflow.ActionKind]ActionHandler

	idempotency IdempotencyStore
	approvals   *approval.Manager
	auditLog    *audit.Log
	metrics     *Metrics
	now         func() time.Time
}

// NewEngine creates an Engine backed by an in-memory idempotency
// store. auditLog and approvals may be nil (audit emission and
// approval steps are then no-ops/always-fail respectively) to support
// tests that exercise only the DAG/retry logic. Use WithIdempotencyStore
// to swap in a distributed store such as RedisIdempotencyStore.
func NewEngine(auditLog *audit.Log, approvals *approval.Manager) *Engine {
	return &Engine{
		runs:             make(map[string]*Run),
		activeByWorkflow: make(map[string]int),
		handlers:         defaultHandlers(),
		idempotency:      NewMemoryIdempotencyStore(),
		approvals:        approvals,
		auditLog:         auditLog,
		metrics:          newMetrics(prometheus.NewRegistry()),
		now:              time.Now,
	}
}

// WithIdempotencyStore replaces the engine's idempotency backend.
func (e *Engine) WithIdempotencyStore(store IdempotencyStore) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency = store
	return e
}

// RegisterActionHandler overrides or adds a handler for kind.
func (e *Engine) RegisterActionHandler(kind workflow.ActionKind, h ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

func (e *Engine) emit(eventType audit.EventType, workflowID, runID, stepID string, data map[string]interface{}) {
	if e.auditLog != nil {
		e.auditLog.Record(eventType, workflowID, runID, stepID, "", data)
	}
}

// StartRun validates def, admits the run past the concurrency limit
// and input resolution, then executes every step in topological order
// synchronously in a background goroutine. It returns the run's
// initial snapshot immediately; callers observe progress via GetRun.
func (e *Engine) StartRun(def workflow.Definition, triggerData map[string]interface{}, inputs map[string]interface{}) (Run, error) {
	if err := workflow.Validate(def); err != nil {
		return Run{}, &ValidationError{Err: err}
	}

	maxConcurrent := def.SettingInt("maxConcurrentExecutions", 0)

	e.mu.Lock()
	if maxConcurrent > 0 && int64(e.activeByWorkflow[def.ID]) >= maxConcurrent {
		e.mu.Unlock()
		return Run{}, ErrConcurrencyLimitExceeded
	}
	e.mu.Unlock()

	resolvedInputs, err := resolveInputs(def, inputs)
	if err != nil {
		return Run{}, err
	}

	order, err := topologicalOrder(def.Steps)
	if err != nil {
		return Run{}, err
	}

	ctx := newContext(resolvedInputs, triggerData)
	run := &Run{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		Status:     RunRunning,
		Context:    *ctx,
		StartedAt:  e.now(),
	}

	e.mu.Lock()
	e.runs[run.ID] = run
	e.activeByWorkflow[def.ID]++
	e.mu.Unlock()

	e.metrics.RunsStarted.WithLabelValues(def.ID).Inc()
	e.emit(audit.RunStarted, def.ID, run.ID, "", nil)

	go e.execute(def, run, order, ctx)

	snapshot := *run
	return snapshot, nil
}

func resolveInputs(def workflow.Definition, inputs map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(def.InputSchema))
	for name, field := range def.InputSchema {
		if v, ok := inputs[name]; ok {
			resolved[name] = v
			continue
		}
		if field.DefaultValue != nil {
			resolved[name] = field.DefaultValue
			continue
		}
		if field.Required {
			return nil, &MissingInputError{Field: name}
		}
	}
	for name, v := range inputs {
		if _, declared := def.InputSchema[name]; !declared {
			resolved[name] = v
		}
	}
	return resolved, nil
}

func (e *Engine) execute(def workflow.Definition, run *Run, order []workflow.Step, rc *Context) {
	maxExecutionMs := def.SettingInt("maxExecutionTimeMs", 0)

	for _, step := range order {
		if e.isCancelled(run.ID) {
			e.finishRun(run, RunCancelled, "")
			return
		}

		e.emit(audit.StepStarted, def.ID, run.ID, step.ID, nil)
		result := e.runStep(def, run, step, rc)

		// A step blocked on an approval observes cancellation inside its
		// own poll loop and returns early; check here too (not just at
		// the top of the loop) so that cancellation wins over a step
		// result of any kind, per spec.md §5's "approval waits are
		// immediately cancellable".
		if e.isCancelled(run.ID) {
			e.finishRun(run, RunCancelled, "")
			return
		}

		if result.Status == StepFailed && step.Settings.SkipOnFailure {
			result.Status = StepSkipped
			result.SkipReason = "step failed, skipOnFailure set"
		}

		e.mu.Lock()
		run.StepResults = append(run.StepResults, result)
		e.mu.Unlock()

		switch result.Status {
		case StepSkipped:
			e.emit(audit.StepSkipped, def.ID, run.ID, step.ID, map[string]interface{}{"reason": result.SkipReason})
		case StepCompleted:
			e.emit(audit.StepCompleted, def.ID, run.ID, step.ID, nil)
			if step.OutputKey != "" {
				e.mu.Lock()
				rc.StepOutputs[step.OutputKey] = result.Output
				e.mu.Unlock()
			}
		case StepFailed:
			e.finishRun(run, RunFailed, result.Error)
			return
		}

		if maxExecutionMs > 0 && e.now().Sub(run.StartedAt) > time.Duration(maxExecutionMs)*time.Millisecond {
			e.finishRun(run, RunTimedOut, ErrExecutionTimeout.Error())
			return
		}
	}

	e.finishRun(run, RunCompleted, "")
}

func (e *Engine) runStep(def workflow.Definition, run *Run, step workflow.Step, rc *Context) StepResult {
	started := e.now()
	result := StepResult{StepID: step.ID, Status: StepRunning, StartedAt: started}

	if !evaluateStepConditions(step, rc) {
		return finalize(result, StepSkipped, started, e.now(), nil, "", "Conditions not met")
	}

	if step.Settings.IdempotencyKey != "" {
		e.mu.Lock()
		store := e.idempotency
		e.mu.Unlock()
		if store.IsDone(context.Background(), step.Settings.IdempotencyKey) {
			return finalize(result, StepSkipped, started, e.now(), nil, "", "Idempotency key already processed")
		}
	}

	if step.Type == workflow.StepApproval && step.Action.Kind == workflow.ActionApproval {
		output, err := e.runApprovalStep(def, run, step)
		if err != nil {
			e.metrics.StepsTotal.WithLabelValues(def.ID, string(StepFailed)).Inc()
			return finalize(result, StepFailed, started, e.now(), nil, err.Error(), "")
		}
		e.markIdempotent(step)
		e.metrics.StepsTotal.WithLabelValues(def.ID, string(StepCompleted)).Inc()
		return finalize(result, StepCompleted, started, e.now(), output, "", "")
	}

	output, retryCount, err := e.runWithRetry(def, step, rc)
	result.RetryCount = retryCount
	if err != nil {
		e.metrics.StepsTotal.WithLabelValues(def.ID, string(StepFailed)).Inc()
		return finalize(result, StepFailed, started, e.now(), nil, err.Error(), "")
	}
	e.markIdempotent(step)
	e.metrics.StepsTotal.WithLabelValues(def.ID, string(StepCompleted)).Inc()
	return finalize(result, StepCompleted, started, e.now(), output, "", "")
}

func (e *Engine) markIdempotent(step workflow.Step) {
	if step.Settings.IdempotencyKey == "" {
		return
	}
	e.mu.Lock()
	store := e.idempotency
	e.mu.Unlock()
	_ = store.MarkDone(context.Background(), step.Settings.IdempotencyKey)
}

func finalize(result StepResult, status StepStatus, started, completed time.Time, output interface{}, errMsg, skipReason string) StepResult {
	result.Status = status
	result.Output = output
	result.Error = errMsg
	result.SkipReason = skipReason
	result.CompletedAt = &completed
	result.DurationMs = completed.Sub(started).Milliseconds()
	return result
}

func evaluateStepConditions(step workflow.Step, rc *Context) bool {
	if len(step.Conditions) == 0 {
		return true
	}
	return trigger.EvaluateAll(step.Conditions, contextMap(rc))
}

func (e *Engine) runWithRetry(def workflow.Definition, step workflow.Step, rc *Context) (interface{}, int, error) {
	handler, ok := e.handlers[step.Action.Kind]
	if !ok {
		if step.Action.Kind == "" {
			return nil, 0, nil
		}
		return nil, 0, ErrUnknownAction
	}

	attempts := 1 + step.Settings.RetryAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx := context.Background()
		var cancel context.CancelFunc
		if step.Settings.TimeoutMs > 0 {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(step.Settings.TimeoutMs)*time.Millisecond)
		}
		output, err := handler(ctx, rc, step)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return output, attempt - 1, nil
		}
		lastErr = err
		if attempt < attempts {
			e.metrics.StepRetries.WithLabelValues(def.ID, step.ID).Inc()
			time.Sleep(retryDelay(attempt, step.Settings))
		}
	}
	return nil, attempts - 1, lastErr
}

func (e *Engine) runApprovalStep(def workflow.Definition, run *Run, step workflow.Step) (interface{}, error) {
	a := step.Action.Approval
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: approval action missing payload", step.ID)
	}
	if e.approvals == nil {
		return nil, fmt.Errorf("execution: step %q: no approval manager configured", step.ID)
	}

	req := e.approvals.Create(run.ID, step.ID, def.ID, a.ApproverIDs, a.MinApprovals, a.TimeoutMs, a.EscalationUserIDs)

	for {
		current, ok := e.approvals.Get(req.ID)
		if !ok {
			return nil, fmt.Errorf("execution: step %q: approval request %q vanished", step.ID, req.ID)
		}
		switch current.Status {
		case approval.StatusApproved:
			return map[string]interface{}{"status": "approved"}, nil
		case approval.StatusRejected:
			return nil, fmt.Errorf("execution: approval request %q rejected", req.ID)
		case approval.StatusExpired:
			return nil, fmt.Errorf("execution: approval request %q expired", req.ID)
		}
		if e.isCancelled(run.ID) {
			return nil, fmt.Errorf("execution: run %q cancelled while awaiting approval", run.ID)
		}
		time.Sleep(approvalPollInterval)
	}
}

func (e *Engine) finishRun(run *Run, status RunStatus, errMsg string) {
	e.mu.Lock()
	run.Status = status
	run.Error = errMsg
	completed := e.now()
	run.CompletedAt = &completed
	e.activeByWorkflow[run.WorkflowID]--
	e.mu.Unlock()

	e.metrics.RunsCompleted.WithLabelValues(run.WorkflowID, string(status)).Inc()

	switch status {
	case RunCompleted:
		e.emit(audit.RunCompleted, run.WorkflowID, run.ID, "", nil)
	case RunFailed, RunTimedOut:
		e.emit(audit.RunFailed, run.WorkflowID, run.ID, "", map[string]interface{}{"error": errMsg, "status": string(status)})
	}
}

func (e *Engine) isCancelled(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	return ok && run.Status == RunCancelled
}

// CancelRun is best-effort: a run mid-action completes that action,
// then the engine observes the cancellation at the next step boundary
// (or immediately, if it is currently waiting on an approval).
func (e *Engine) CancelRun(runID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return ErrRunNotFound
	}
	if run.Status.terminal() {
		e.mu.Unlock()
		return nil
	}
	run.Status = RunCancelled
	e.mu.Unlock()
	return nil
}

// RetryRun creates a new run for the same workflow with
// retryCount = prior + 1, accepted only when the prior run's status
// is failed.
func (e *Engine) RetryRun(runID string, def workflow.Definition) (Run, error) {
	e.mu.Lock()
	prior, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return Run{}, ErrRunNotFound
	}
	if prior.Status != RunFailed {
		e.mu.Unlock()
		return Run{}, ErrNotRetryable
	}
	inputs := prior.Context.Inputs
	triggerData := prior.Context.TriggerData
	retryCount := prior.RetryCount + 1
	e.mu.Unlock()

	run, err := e.StartRun(def, triggerData, inputs)
	if err != nil {
		return Run{}, err
	}
	e.mu.Lock()
	if stored, ok := e.runs[run.ID]; ok {
		stored.RetryCount = retryCount
		run.RetryCount = retryCount
	}
	e.mu.Unlock()
	return run, nil
}

// GetRun returns a copy of the run state by ID.
func (e *Engine) GetRun(runID string) (Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// ListRuns returns every run matching workflowID (when non-empty) and
// status (when non-empty), in no particular order.
func (e *Engine) ListRuns(workflowID string, status RunStatus) []Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Run, 0, len(e.runs))
	for _, run := range e.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, *run)
	}
	return out
}
