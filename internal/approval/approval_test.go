package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Create_IsIdempotentForSameRunAndStep(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	first := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2"}, 1, 60_000, nil)
	second := m.Create("run-1", "step-1", "wf-1", []string{"u9"}, 5, 1, nil)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"u1", "u2"}, second.ApproverIDs)
}

func TestManager_Respond_ApprovesAtQuorum(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2", "u3"}, 2, 60_000, nil)

	got, err := m.Respond(req.ID, "u1", true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = m.Respond(req.ID, "u2", true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)
}

func TestManager_Respond_RejectsWhenQuorumUnreachable(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2", "u3"}, 3, 60_000, nil)

	_, err := m.Respond(req.ID, "u1", false, "")
	require.NoError(t, err)
	got, err := m.Respond(req.ID, "u2", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
}

func TestManager_Respond_RemainsPendingWhenQuorumStillReachable(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2", "u3"}, 2, 60_000, nil)

	got, err := m.Respond(req.ID, "u1", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestManager_Respond_RejectsUnknownApprover(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1"}, 1, 60_000, nil)

	_, err := m.Respond(req.ID, "stranger", true, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestManager_Respond_RejectsDoubleResponse(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2"}, 2, 60_000, nil)

	_, err := m.Respond(req.ID, "u1", true, "")
	require.NoError(t, err)
	_, err = m.Respond(req.ID, "u1", true, "")
	assert.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestManager_Respond_RejectsOnTerminalRequest(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1"}, 1, 60_000, nil)
	_, err := m.Respond(req.ID, "u1", true, "")
	require.NoError(t, err)

	_, err = m.Respond(req.ID, "u2", true, "")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestManager_ProcessExpired_EscalatesThenExpires(t *testing.T) {
	var escalated, resolved []Request
	m := NewManager(nil, nil, func(r Request) { resolved = append(resolved, r) }, func(r Request) { escalated = append(escalated, r) })

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1"}, 1, 1000, []string{"admin"})

	m.ProcessExpired(start.Add(2 * time.Second))
	require.Len(t, escalated, 1)
	assert.Equal(t, StatusEscalated, escalated[0].Status)

	got, ok := m.Get(req.ID)
	require.True(t, ok)
	assert.True(t, got.Escalated)

	m.ProcessExpired(start.Add(10 * time.Second))
	require.Len(t, resolved, 1)
	assert.Equal(t, StatusExpired, resolved[0].Status)
}

func TestManager_ProcessExpired_ExpiresDirectlyWithoutEscalation(t *testing.T) {
	var resolved []Request
	m := NewManager(nil, nil, func(r Request) { resolved = append(resolved, r) }, nil)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	m.Create("run-1", "step-1", "wf-1", []string{"u1"}, 1, 1000, nil)

	m.ProcessExpired(start.Add(2 * time.Second))
	require.Len(t, resolved, 1)
	assert.Equal(t, StatusExpired, resolved[0].Status)
}

func TestManager_EscalatedApproverCanRespond(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1"}, 1, 1000, []string{"admin"})

	m.ProcessExpired(start.Add(2 * time.Second))

	got, err := m.Respond(req.ID, "admin", true, "escalated approval")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

// TestManager_Respond_EscalationApprovalOverridesMultiApproverQuorum
// reproduces S4: a minApprovals=2 request over two original approvers
// escalates on timeout, and a single escalation-user approval resolves
// it to approved even though neither u1 nor u2 ever responded —
// escalation transfers approval authority to the fallback set rather
// than adding it to the original quorum pool.
func TestManager_Respond_EscalationApprovalOverridesMultiApproverQuorum(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2"}, 2, 60_000, []string{"mgr"})

	m.ProcessExpired(start.Add(2 * time.Minute))
	got, ok := m.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusEscalated, got.Status)

	got, err := m.Respond(req.ID, "mgr", true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

// TestManager_Respond_EscalationRejectionOverridesMultiApproverQuorum
// is the reject-side mirror: a single escalation-user rejection is
// final even with minApprovals>1 and no original approver having
// responded.
func TestManager_Respond_EscalationRejectionOverridesMultiApproverQuorum(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	req := m.Create("run-1", "step-1", "wf-1", []string{"u1", "u2"}, 2, 60_000, []string{"mgr"})

	m.ProcessExpired(start.Add(2 * time.Minute))

	got, err := m.Respond(req.ID, "mgr", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
}
