package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordAppendsAndReturnsEntry(t *testing.T) {
	l := NewLog()
	e := l.Record(RunStarted, "wf-1", "run-1", "", "", map[string]interface{}{"k": "v"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, RunStarted, e.EventType)
	assert.Equal(t, "wf-1", e.WorkflowID)
	assert.Equal(t, "run-1", e.RunID)
}

func TestLog_ListFiltersByWorkflowRunAndType(t *testing.T) {
	l := NewLog()
	l.Record(RunStarted, "wf-1", "run-1", "", "", nil)
	l.Record(StepStarted, "wf-1", "run-1", "s1", "", nil)
	l.Record(RunStarted, "wf-2", "run-2", "", "", nil)

	assert.Len(t, l.List(Filter{WorkflowID: "wf-1"}), 2)
	assert.Len(t, l.List(Filter{RunID: "run-2"}), 1)
	assert.Len(t, l.List(Filter{EventType: RunStarted}), 2)
	assert.Len(t, l.List(Filter{}), 3)
}

func TestLog_SubscribeReceivesMatchingEvents(t *testing.T) {
	l := NewLog()
	ch := l.Subscribe(RunStarted)
	defer l.Unsubscribe(ch)

	l.Record(RunStarted, "wf-1", "run-1", "", "", nil)
	l.Record(StepStarted, "wf-1", "run-1", "s1", "", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, string(RunStarted), ev.Type)
	case <-time.After(time.Second):
		require.Fail(t, "expected an event on the subscription channel")
	}

	select {
	case ev := <-ch:
		require.Fail(t, "unexpected second event", "%v", ev)
	default:
	}
}
