package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat/core/internal/approval"
	"github.com/nchat/core/internal/audit"
	"github.com/nchat/core/internal/trigger"
	"github.com/nchat/core/internal/workflow"
)

func waitTerminal(t *testing.T, e *Engine, runID string) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		r, ok := e.GetRun(runID)
		if !ok {
			return false
		}
		run = r
		return r.Status == RunCompleted || r.Status == RunFailed || r.Status == RunCancelled || r.Status == RunTimedOut
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func simpleTwoStepDefinition() workflow.Definition {
	return workflow.Definition{
		ID:      "wf-1",
		Name:    "Two step",
		Enabled: true,
		Trigger: workflow.Trigger{Kind: workflow.TriggerManual, Manual: &workflow.ManualTrigger{}},
		Steps: []workflow.Step{
			{ID: "s1", Name: "set", Type: workflow.StepAction, OutputKey: "s1out", Action: workflow.Action{
				Kind:        workflow.ActionSetVariable,
				SetVariable: &workflow.SetVariableAction{Name: "greeting", Value: "hi"},
			}},
			{ID: "s2", Name: "notify", Type: workflow.StepAction, DependsOn: []string{"s1"}, Action: workflow.Action{
				Kind:        workflow.ActionSendMessage,
				SendMessage: &workflow.SendMessageAction{ChannelID: "c1", Content: "done"},
			}},
		},
	}
}

func TestEngine_StartRun_ExecutesStepsInDependencyOrderAndCompletes(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	run, err := e.StartRun(simpleTwoStepDefinition(), nil, nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, run.ID)
	require.Equal(t, RunCompleted, final.Status)
	require.Len(t, final.StepResults, 2)
	assert.Equal(t, "s1", final.StepResults[0].StepID)
	assert.Equal(t, "s2", final.StepResults[1].StepID)
	assert.Equal(t, "hi", final.Context.Variables["greeting"])
	assert.Equal(t, "hi", final.Context.StepOutputs["s1out"])
}

func TestEngine_StartRun_RejectsCyclicDependency(t *testing.T) {
	e := NewEngine(nil, nil)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "a", Type: workflow.StepAction, DependsOn: []string{"s2"}},
		{ID: "s2", Name: "b", Type: workflow.StepAction, DependsOn: []string{"s1"}},
	}
	_, err := e.StartRun(def, nil, nil)
	assert.Error(t, err)
}

func TestEngine_StartRun_RejectsInvalidDefinition(t *testing.T) {
	e := NewEngine(nil, nil)
	def := simpleTwoStepDefinition()
	def.Name = ""
	_, err := e.StartRun(def, nil, nil)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEngine_StartRun_MissingRequiredInput(t *testing.T) {
	e := NewEngine(nil, nil)
	def := simpleTwoStepDefinition()
	def.InputSchema = map[string]workflow.InputField{"userId": {Required: true}}
	_, err := e.StartRun(def, nil, nil)
	var merr *MissingInputError
	assert.ErrorAs(t, err, &merr)
}

func TestEngine_StartRun_ConcurrencyLimitExceeded(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()
	def.Settings = map[string]interface{}{"maxConcurrentExecutions": float64(1)}
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "wait", Type: workflow.StepAction, Action: workflow.Action{
			Kind:  workflow.ActionDelay,
			Delay: &workflow.DelayAction{DurationMs: 500},
		}},
	}

	_, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)

	_, err = e.StartRun(def, nil, nil)
	assert.ErrorIs(t, err, ErrConcurrencyLimitExceeded)
}

func TestEngine_Step_SkippedWhenConditionFails(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "conditional", Type: workflow.StepAction,
			Conditions: []trigger.Condition{{Field: "inputs.missingFlag", Operator: trigger.OpExists}},
			Action:     workflow.Action{Kind: workflow.ActionSetVariable, SetVariable: &workflow.SetVariableAction{Name: "x", Value: 1}},
		},
	}

	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	final := waitTerminal(t, e, run.ID)
	require.Equal(t, RunCompleted, final.Status)
	require.Len(t, final.StepResults, 1)
	assert.Equal(t, StepSkipped, final.StepResults[0].Status)
	assert.Equal(t, "Conditions not met", final.StepResults[0].SkipReason)
}

func TestEngine_Step_RetriesThenSucceeds(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	attempts := 0
	e.RegisterActionHandler("flaky", func(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return "ok", nil
	})

	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "flaky step", Type: workflow.StepAction, OutputKey: "out",
			Settings: workflow.StepSettings{RetryAttempts: 3, RetryBackoff: workflow.BackoffFixed, RetryDelayMs: 1},
			Action:   workflow.Action{Kind: "flaky"},
		},
	}

	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	final := waitTerminal(t, e, run.ID)
	require.Equal(t, RunCompleted, final.Status)
	assert.Equal(t, 2, final.StepResults[0].RetryCount)
	assert.Equal(t, "ok", final.Context.StepOutputs["out"])
}

func TestEngine_Step_UnknownActionFailsRun(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "mystery", Type: workflow.StepAction, Action: workflow.Action{Kind: "does_not_exist"}},
	}
	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	final := waitTerminal(t, e, run.ID)
	assert.Equal(t, RunFailed, final.Status)
}

func TestEngine_Step_UnknownActionSkippedWhenSkipOnFailure(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "mystery", Type: workflow.StepAction, Settings: workflow.StepSettings{SkipOnFailure: true}, Action: workflow.Action{Kind: "does_not_exist"}},
	}
	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	final := waitTerminal(t, e, run.ID)
	require.Equal(t, RunCompleted, final.Status)
	assert.Equal(t, StepSkipped, final.StepResults[0].Status)
}

func TestEngine_Step_IdempotencyKeySkipsSecondRun(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "once", Type: workflow.StepAction, Settings: workflow.StepSettings{IdempotencyKey: "k1"}, Action: workflow.Action{
			Kind: workflow.ActionSetVariable, SetVariable: &workflow.SetVariableAction{Name: "x", Value: 1},
		}},
	}

	run1, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	waitTerminal(t, e, run1.ID)

	run2, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	final2 := waitTerminal(t, e, run2.ID)
	assert.Equal(t, StepSkipped, final2.StepResults[0].Status)
	assert.Equal(t, "Idempotency key already processed", final2.StepResults[0].SkipReason)
}

func TestEngine_ApprovalStep_BlocksUntilApproved(t *testing.T) {
	mgr := approval.NewManager(nil, nil, nil, nil)
	e := NewEngine(audit.NewLog(), mgr)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "approve", Type: workflow.StepApproval, Action: workflow.Action{
			Kind: workflow.ActionApproval,
			Approval: &workflow.ApprovalAction{
				ApproverIDs: []string{"u1"}, MinApprovals: 1, TimeoutMs: 60_000,
			},
		}},
	}

	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(mgr.List()) > 0
	}, time.Second, 5*time.Millisecond)

	reqs := mgr.List()
	require.Len(t, reqs, 1)
	_, err = mgr.Respond(reqs[0].ID, "u1", true, "")
	require.NoError(t, err)

	final := waitTerminal(t, e, run.ID)
	assert.Equal(t, RunCompleted, final.Status)
}

func TestEngine_CancelRun_TransitionsToCancelled(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "wait", Type: workflow.StepAction, Action: workflow.Action{Kind: workflow.ActionDelay, Delay: &workflow.DelayAction{DurationMs: 50}}},
		{ID: "s2", Name: "wait2", Type: workflow.StepAction, DependsOn: []string{"s1"}, Action: workflow.Action{Kind: workflow.ActionDelay, Delay: &workflow.DelayAction{DurationMs: 2000}}},
	}

	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.CancelRun(run.ID))

	final := waitTerminal(t, e, run.ID)
	assert.Equal(t, RunCancelled, final.Status)
}

func TestEngine_CancelRun_DuringApprovalWaitTransitionsToCancelledNotFailed(t *testing.T) {
	mgr := approval.NewManager(nil, nil, nil, nil)
	e := NewEngine(audit.NewLog(), mgr)
	def := simpleTwoStepDefinition()
	def.Steps = []workflow.Step{
		{ID: "s1", Name: "approve", Type: workflow.StepApproval, Action: workflow.Action{
			Kind: workflow.ActionApproval,
			Approval: &workflow.ApprovalAction{
				ApproverIDs: []string{"u1"}, MinApprovals: 1, TimeoutMs: 60_000,
			},
		}},
	}

	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(mgr.List()) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.CancelRun(run.ID))

	final := waitTerminal(t, e, run.ID)
	assert.Equal(t, RunCancelled, final.Status)
}

func TestEngine_RetryRun_OnlyAcceptsFailedRuns(t *testing.T) {
	e := NewEngine(audit.NewLog(), nil)
	def := simpleTwoStepDefinition()

	run, err := e.StartRun(def, nil, nil)
	require.NoError(t, err)
	waitTerminal(t, e, run.ID)

	_, err = e.RetryRun(run.ID, def)
	assert.ErrorIs(t, err, ErrNotRetryable)
}
