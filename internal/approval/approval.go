// Package approval implements the quorum-and-escalation gate a
// running workflow blocks on at an approval step. Grounded on
// internal/governance/pending_vault.go's pending-keyed-map →
// resolved-and-cleared lifecycle under one mutex, and
// internal/governance/task_gate.go's per-key exclusivity check
// (AcquireLock's "already busy" guard generalized here to "already
// responded"/"already terminal"). The N-of-M quorum arithmetic itself
// has no teacher analogue; it is built fresh from spec.md §4.10.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nchat/core/internal/audit"
)

// Status is the lifecycle state of an ApprovalRequest.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusEscalated Status = "escalated"
)

func (s Status) terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Response is a single approver's reply.
type Response struct {
	UserID      string
	Approved    bool
	Comment     string
	RespondedAt time.Time
}

// Request is an ApprovalRequest per spec.md §3.
type Request struct {
	ID                string
	RunID             string
	StepID            string
	WorkflowID        string
	ApproverIDs       []string
	MinApprovals      int
	TimeoutMs         int64
	Status            Status
	Responses         []Response
	EscalationUserIDs []string
	Escalated         bool
	CreatedAt         time.Time
	ResolvedAt        *time.Time

	deadline time.Time
}

// Errors returned by Respond.
var (
	ErrNotFound       = errors.New("approval: request not found")
	ErrTerminal       = errors.New("approval: request already resolved")
	ErrNotAuthorized  = errors.New("approval: user is not an eligible approver")
	ErrAlreadyResponded = errors.New("approval: user already responded")
)

type key struct {
	runID  string
	stepID string
}

// OnNotify is invoked when a new request is created.
type OnNotify func(requestID string, approverIDs []string)

// OnResolved is invoked when a request reaches a terminal state
// (approved/rejected/expired).
type OnResolved func(req Request)

// OnEscalated is invoked when a request transitions to escalated.
type OnEscalated func(req Request)

// Manager tracks every in-flight and resolved approval request under
// one coarse lock, keyed by (runId, stepId) for idempotent creation
// and by id for direct lookup.
type Manager struct {
	mu          sync.Mutex
	byKey       map[key]*Request
	byID        map[string]*Request
	auditLog    *audit.Log
	onNotify    OnNotify
	onResolved  OnResolved
	onEscalated OnEscalated
	now         func() time.Time
}

// NewManager creates an empty Manager. auditLog may be nil to skip
// audit emission (useful for unit tests that only check state).
func NewManager(auditLog *audit.Log, onNotify OnNotify, onResolved OnResolved, onEscalated OnEscalated) *Manager {
	return &Manager{
		byKey:       make(map[key]*Request),
		byID:        make(map[string]*Request),
		auditLog:    auditLog,
		onNotify:    onNotify,
		onResolved:  onResolved,
		onEscalated: onEscalated,
		now:         time.Now,
	}
}

// Create returns the existing request for (runID, stepID) if one
// already exists (idempotent re-creation), otherwise creates a new
// pending request, emits workflow.approval_requested, and invokes
// onNotify.
func (m *Manager) Create(runID, stepID, workflowID string, approverIDs []string, minApprovals int, timeoutMs int64, escalationUserIDs []string) Request {
	m.mu.Lock()
	k := key{runID: runID, stepID: stepID}
	if existing, ok := m.byKey[k]; ok {
		req := *existing
		m.mu.Unlock()
		return req
	}

	now := m.now()
	req := &Request{
		ID:                uuid.NewString(),
		RunID:             runID,
		StepID:            stepID,
		WorkflowID:        workflowID,
		ApproverIDs:       approverIDs,
		MinApprovals:      minApprovals,
		TimeoutMs:         timeoutMs,
		Status:            StatusPending,
		EscalationUserIDs: escalationUserIDs,
		CreatedAt:         now,
		deadline:          now.Add(time.Duration(timeoutMs) * time.Millisecond),
	}
	m.byKey[k] = req
	m.byID[req.ID] = req
	m.mu.Unlock()

	if m.auditLog != nil {
		m.auditLog.Record(audit.ApprovalRequested, workflowID, runID, stepID, "", nil)
	}
	if m.onNotify != nil {
		m.onNotify(req.ID, approverIDs)
	}
	return *req
}

// Respond records an approve/reject from userID against requestID and
// recomputes the request's status.
func (m *Manager) Respond(requestID, userID string, approved bool, comment string) (Request, error) {
	m.mu.Lock()
	req, ok := m.byID[requestID]
	if !ok {
		m.mu.Unlock()
		return Request{}, ErrNotFound
	}
	if req.Status.terminal() {
		m.mu.Unlock()
		return Request{}, ErrTerminal
	}
	eligible := req.ApproverIDs
	if req.Escalated {
		eligible = append(append([]string{}, req.ApproverIDs...), req.EscalationUserIDs...)
	}
	if !stringIn(eligible, userID) {
		m.mu.Unlock()
		return Request{}, ErrNotAuthorized
	}
	for _, r := range req.Responses {
		if r.UserID == userID {
			m.mu.Unlock()
			return Request{}, ErrAlreadyResponded
		}
	}

	req.Responses = append(req.Responses, Response{UserID: userID, Approved: approved, Comment: comment, RespondedAt: m.now()})

	var resolved bool
	if req.Escalated && stringIn(req.EscalationUserIDs, userID) {
		// Escalation is a one-time transfer of approval authority to the
		// fallback set (spec glossary): a single escalation-user response
		// is final, regardless of the original minApprovals quorum.
		if approved {
			req.Status = StatusApproved
		} else {
			req.Status = StatusRejected
		}
		resolved = true
	} else {
		approvals := 0
		responded := make(map[string]bool, len(req.Responses))
		for _, r := range req.Responses {
			responded[r.UserID] = true
			if r.Approved {
				approvals++
			}
		}
		remaining := 0
		for _, id := range req.ApproverIDs {
			if !responded[id] {
				remaining++
			}
		}

		switch {
		case approvals >= req.MinApprovals:
			req.Status = StatusApproved
			resolved = true
		case approvals+remaining < req.MinApprovals:
			req.Status = StatusRejected
			resolved = true
		}
	}
	if resolved {
		now := m.now()
		req.ResolvedAt = &now
	}
	snapshot := *req
	m.mu.Unlock()

	if resolved {
		if m.auditLog != nil {
			m.auditLog.Record(audit.ApprovalResponded, req.WorkflowID, req.RunID, req.StepID, userID, map[string]interface{}{"status": string(req.Status)})
		}
		if m.onResolved != nil {
			m.onResolved(snapshot)
		}
	} else if m.auditLog != nil {
		m.auditLog.Record(audit.ApprovalResponded, req.WorkflowID, req.RunID, req.StepID, userID, map[string]interface{}{"status": string(req.Status)})
	}

	return snapshot, nil
}

// ProcessExpired scans every pending/escalated request whose deadline
// has passed as of now, escalating or expiring it.
func (m *Manager) ProcessExpired(now time.Time) {
	m.mu.Lock()
	var toEscalate, toExpire []*Request
	for _, req := range m.byID {
		if req.Status.terminal() {
			continue
		}
		if now.Before(req.deadline) {
			continue
		}
		if len(req.EscalationUserIDs) > 0 && !req.Escalated {
			req.Escalated = true
			req.Status = StatusEscalated
			req.deadline = now.Add(time.Duration(req.TimeoutMs) * time.Millisecond)
			toEscalate = append(toEscalate, req)
		} else {
			req.Status = StatusExpired
			resolved := now
			req.ResolvedAt = &resolved
			toExpire = append(toExpire, req)
		}
	}
	var escalatedSnaps, expiredSnaps []Request
	for _, r := range toEscalate {
		escalatedSnaps = append(escalatedSnaps, *r)
	}
	for _, r := range toExpire {
		expiredSnaps = append(expiredSnaps, *r)
	}
	m.mu.Unlock()

	for _, req := range escalatedSnaps {
		if m.auditLog != nil {
			m.auditLog.Record(audit.ApprovalEscalated, req.WorkflowID, req.RunID, req.StepID, "", nil)
		}
		if m.onEscalated != nil {
			m.onEscalated(req)
		}
	}
	for _, req := range expiredSnaps {
		if m.auditLog != nil {
			m.auditLog.Record(audit.ApprovalExpired, req.WorkflowID, req.RunID, req.StepID, "", nil)
		}
		if m.onResolved != nil {
			m.onResolved(req)
		}
	}
}

// Get returns a copy of the request by ID.
func (m *Manager) Get(requestID string) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[requestID]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// List returns a copy of every known request, in no particular
// order.
func (m *Manager) List() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.byID))
	for _, req := range m.byID {
		out = append(out, *req)
	}
	return out
}

func stringIn(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
