// Package audit records structured audit entries for workflow
// lifecycle transitions and fans them out live as CloudEvents 1.0
// envelopes, the same in-process pub/sub shape this module used to
// keep in a standalone internal/events package — folded in here
// directly since audit.Log is its only producer and the CloudEvent
// type strings are just the workflow.* taxonomy in spec.md §6.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the audit event types this package emits.
type EventType string

const (
	RunStarted        EventType = "workflow.run_started"
	RunCompleted      EventType = "workflow.run_completed"
	RunFailed         EventType = "workflow.run_failed"
	StepStarted       EventType = "workflow.step_started"
	StepCompleted     EventType = "workflow.step_completed"
	StepSkipped       EventType = "workflow.step_skipped"
	ApprovalRequested EventType = "workflow.approval_requested"
	ApprovalResponded EventType = "workflow.approval_responded"
	ApprovalEscalated EventType = "workflow.approval_escalated"
	ApprovalExpired   EventType = "workflow.approval_expired"
	ScheduleCreated   EventType = "workflow.schedule_created"
	ScheduleFired     EventType = "workflow.schedule_fired"
)

// Entry is a single audit log record, per spec.md §6's audit log
// entry shape.
type Entry struct {
	ID         string
	Timestamp  time.Time
	EventType  EventType
	WorkflowID string
	RunID      string
	StepID     string
	UserID     string
	Data       map[string]interface{}
}

// Filter narrows List results; zero-value fields are unconstrained.
type Filter struct {
	WorkflowID string
	RunID      string
	EventType  EventType
}

// CloudEvent is the CloudEvents 1.0 envelope every Log subscriber
// receives. Compatible with the CNCF CloudEvents specification, so a
// subscriber can serialize it straight onto an SSE stream or a
// message broker without reshaping it first.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

func newCloudEvent(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// SSEFormat returns the event in Server-Sent Events wire format.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

const subscriberBufferSize = 100

// Log is an append-only, in-memory audit trail with live fan-out to
// CloudEvent subscribers under one coarse mutex, the same
// "shared store behind one lock" idiom used across this module.
type Log struct {
	mu          sync.RWMutex
	entries     []Entry
	subscribers map[EventType][]chan *CloudEvent
	allSubs     []chan *CloudEvent
	now         func() time.Time
}

// NewLog creates an empty audit Log.
func NewLog() *Log {
	return &Log{
		subscribers: make(map[EventType][]chan *CloudEvent),
		now:         time.Now,
	}
}

// Record appends a new audit entry and publishes it to every matching
// subscriber. workflowID/runID/stepID/userID may be empty when not
// applicable to eventType.
func (l *Log) Record(eventType EventType, workflowID, runID, stepID, userID string, data map[string]interface{}) Entry {
	entry := Entry{
		ID:         uuid.NewString(),
		Timestamp:  l.now(),
		EventType:  eventType,
		WorkflowID: workflowID,
		RunID:      runID,
		StepID:     stepID,
		UserID:     userID,
		Data:       data,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	event := newCloudEvent(string(eventType), "nchat-core/workflow", subjectFor(entry), map[string]interface{}{
		"id":         entry.ID,
		"workflowId": workflowID,
		"runId":      runID,
		"stepId":     stepID,
		"userId":     userID,
		"data":       data,
	})
	l.publish(eventType, event)

	return entry
}

func subjectFor(e Entry) string {
	if e.RunID != "" {
		return e.RunID
	}
	return e.WorkflowID
}

func (l *Log) publish(eventType EventType, event *CloudEvent) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ch := range l.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// Subscriber too slow to keep up, drop rather than block Record.
		}
	}
	for _, ch := range l.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of CloudEvents for the given event
// types. Pass no eventTypes to receive every event.
func (l *Log) Subscribe(eventTypes ...EventType) chan *CloudEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan *CloudEvent, subscriberBufferSize)
	if len(eventTypes) == 0 {
		l.allSubs = append(l.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			l.subscribers[et] = append(l.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes a subscription created by Subscribe and closes
// its channel.
func (l *Log) Unsubscribe(ch chan *CloudEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for et, subs := range l.subscribers {
		filtered := make([]chan *CloudEvent, 0, len(subs))
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		l.subscribers[et] = filtered
	}
	filtered := make([]chan *CloudEvent, 0, len(l.allSubs))
	for _, s := range l.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	l.allSubs = filtered

	close(ch)
}

// SubscriberCount returns the total number of active subscriptions.
func (l *Log) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := len(l.allSubs)
	for _, subs := range l.subscribers {
		count += len(subs)
	}
	return count
}

// List returns every recorded entry matching filter, in recording
// order.
func (l *Log) List(filter Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		out = append(out, e)
	}
	return out
}
