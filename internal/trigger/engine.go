// Package trigger evaluates external stimuli (events, webhooks, manual
// calls) against registered workflow triggers. Grounded on
// internal/webhooks.Registry's GetSubscribers filter-and-collect idiom
// (iterate a map, apply a predicate, collect matches) and
// internal/webhooks.SignPayload's HMAC verification approach.
package trigger

import (
	"errors"
	"sync"
)

// Kind identifies which trigger variant a registration carries.
type Kind string

const (
	KindManual   Kind = "manual"
	KindEvent    Kind = "event"
	KindSchedule Kind = "schedule"
	KindWebhook  Kind = "webhook"
)

// Spec is the trigger-matching-relevant projection of a workflow's
// trigger definition (internal/workflow.Definition converts its own
// Trigger into this shape when registering with the Engine, keeping
// this package free of any workflow import).
type Spec struct {
	Kind Kind

	// event
	EventType  string
	ChannelIDs []string
	UserIDs    []string
	Conditions []Condition

	// webhook
	Methods    []string
	Secret     string

	// manual
	AllowedUserIDs []string
	AllowedRoles   []string
}

type registration struct {
	workflowID string
	enabled    bool
	spec       Spec
}

// ErrSignatureInvalid is returned by MatchWebhook when the trigger has
// a secret configured and the supplied signature does not verify.
var ErrSignatureInvalid = errors.New("trigger: webhook signature invalid")

// ErrUnknownWorkflow is returned when an operation names a workflow ID
// with no registration.
var ErrUnknownWorkflow = errors.New("trigger: unknown workflow")

// Engine holds the registered trigger specs for every known workflow
// under one mutex, the same coarse-lock-per-store idiom used
// throughout this module.
type Engine struct {
	mu        sync.Mutex
	workflows map[string]*registration
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{workflows: make(map[string]*registration)}
}

// Register adds or replaces the trigger spec for workflowID.
func (e *Engine) Register(workflowID string, enabled bool, spec Spec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[workflowID] = &registration{workflowID: workflowID, enabled: enabled, spec: spec}
}

// SetEnabled updates a registered workflow's enabled flag; disabled
// workflows are ignored by every Match* method.
func (e *Engine) SetEnabled(workflowID string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reg, ok := e.workflows[workflowID]; ok {
		reg.enabled = enabled
	}
}

// Unregister removes a workflow's trigger spec entirely.
func (e *Engine) Unregister(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.workflows, workflowID)
}

func (e *Engine) snapshot() []*registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*registration, 0, len(e.workflows))
	for _, reg := range e.workflows {
		out = append(out, reg)
	}
	return out
}

func (e *Engine) get(workflowID string) (*registration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.workflows[workflowID]
	return reg, ok
}

// MatchEvent returns the IDs of every enabled workflow whose event
// trigger matches eventType/channelID/userID and whose conditions all
// evaluate true against payload.
func (e *Engine) MatchEvent(eventType, channelID, userID string, payload map[string]interface{}) []string {
	var matched []string
	for _, reg := range e.snapshot() {
		if !reg.enabled || reg.spec.Kind != KindEvent {
			continue
		}
		s := reg.spec
		if s.EventType != eventType {
			continue
		}
		if len(s.ChannelIDs) > 0 && !stringSliceContains(s.ChannelIDs, channelID) {
			continue
		}
		if len(s.UserIDs) > 0 && !stringSliceContains(s.UserIDs, userID) {
			continue
		}
		if !EvaluateAll(s.Conditions, payload) {
			continue
		}
		matched = append(matched, reg.workflowID)
	}
	return matched
}

// MatchWebhook checks whether a webhook call for workflowID is
// accepted: the workflow must be enabled with a webhook trigger, the
// method must be allowed, the signature (if a secret is configured)
// must verify, and all conditions must hold against payload.
func (e *Engine) MatchWebhook(workflowID, method string, rawBody []byte, signature string, payload map[string]interface{}) (bool, error) {
	reg, ok := e.get(workflowID)
	if !ok {
		return false, ErrUnknownWorkflow
	}
	if !reg.enabled || reg.spec.Kind != KindWebhook {
		return false, nil
	}
	s := reg.spec
	if !stringSliceContains(s.Methods, method) {
		return false, nil
	}
	if s.Secret != "" {
		if !VerifySignature(rawBody, s.Secret, signature) {
			return false, ErrSignatureInvalid
		}
	}
	return EvaluateAll(s.Conditions, payload), nil
}

// MatchManual reports whether callerUserID/callerRoles may invoke
// workflowID manually: allowed when allowedUserIds contains the
// caller, or allowedRoles intersects the caller's roles, or neither
// restriction is set.
func (e *Engine) MatchManual(workflowID, callerUserID string, callerRoles []string) bool {
	reg, ok := e.get(workflowID)
	if !ok || !reg.enabled || reg.spec.Kind != KindManual {
		return false
	}
	s := reg.spec
	if len(s.AllowedUserIDs) == 0 && len(s.AllowedRoles) == 0 {
		return true
	}
	if stringSliceContains(s.AllowedUserIDs, callerUserID) {
		return true
	}
	for _, role := range callerRoles {
		if stringSliceContains(s.AllowedRoles, role) {
			return true
		}
	}
	return false
}

func stringSliceContains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
