package cron

import (
	"errors"
	"sync"
	"time"
)

// Schedule is a single cron-driven workflow trigger, per spec.md §3's
// Schedule entity.
type Schedule struct {
	ID              string
	WorkflowID      string
	CronExpression  string
	Timezone        string
	Active          bool
	NextRunAt       time.Time
	LastRunAt       *time.Time
	LastRunStatus   *string
	StartDate       *time.Time
	EndDate         *time.Time

	expr *Expression
	loc  *time.Location
}

// ErrInvalidTrigger is returned by CreateSchedule when the workflow's
// trigger is not a schedule trigger.
var ErrInvalidTrigger = errors.New("cron: trigger is not a schedule trigger")

// ErrInvalidCronExpression is returned by CreateSchedule when the
// cron expression cannot be parsed.
var ErrInvalidCronExpression = errors.New("cron: invalid cron expression")

// ScheduleTrigger is the minimal shape CreateSchedule needs from a
// workflow's trigger; internal/workflow.Trigger.ToCronTrigger builds it.
type ScheduleTrigger struct {
	IsSchedule     bool
	CronExpression string
	Timezone       string
	StartDate      *time.Time
	EndDate        *time.Time
}

// Scheduler manages the set of active schedules under one coarse
// lock, the same "named collection under one mutex" idiom as
// internal/circuitbreaker.Manager.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	byWorkflow map[string]string // workflowID -> scheduleID
	idSeq     int64
	now       func() time.Time
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		schedules:  make(map[string]*Schedule),
		byWorkflow: make(map[string]string),
		now:        time.Now,
	}
}

// CreateSchedule registers (or, for an existing workflow, replaces in
// place) a schedule from trigger. Rejects non-schedule triggers and
// invalid cron expressions.
func (s *Scheduler) CreateSchedule(workflowID string, trigger ScheduleTrigger) (*Schedule, error) {
	if !trigger.IsSchedule {
		return nil, ErrInvalidTrigger
	}
	expr, err := Parse(trigger.CronExpression)
	if err != nil {
		return nil, ErrInvalidCronExpression
	}

	loc := time.UTC
	if trigger.Timezone != "" {
		if l, err := time.LoadLocation(trigger.Timezone); err == nil {
			loc = l
		}
	}

	now := s.now().In(loc)
	nextRun, ok := expr.Next(now)
	if !ok {
		nextRun = time.Time{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, replacing := s.byWorkflow[workflowID]; replacing {
		sched := s.schedules[existingID]
		sched.CronExpression = trigger.CronExpression
		sched.Timezone = trigger.Timezone
		sched.StartDate = trigger.StartDate
		sched.EndDate = trigger.EndDate
		sched.Active = true
		sched.NextRunAt = nextRun
		sched.expr = expr
		sched.loc = loc
		return sched, nil
	}

	s.idSeq++
	sched := &Schedule{
		ID:             scheduleID(s.idSeq),
		WorkflowID:     workflowID,
		CronExpression: trigger.CronExpression,
		Timezone:       trigger.Timezone,
		Active:         true,
		NextRunAt:      nextRun,
		StartDate:      trigger.StartDate,
		EndDate:        trigger.EndDate,
		expr:           expr,
		loc:            loc,
	}
	s.schedules[sched.ID] = sched
	s.byWorkflow[workflowID] = sched.ID
	return sched, nil
}

func scheduleID(n int64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "sched-0"
	}
	buf := make([]byte, 0, 12)
	for n > 0 {
		buf = append([]byte{digits[n%int64(len(digits))]}, buf...)
		n /= int64(len(digits))
	}
	return "sched-" + string(buf)
}

// Tick returns every active schedule whose NextRunAt is at or before
// now, updating LastRunAt and recomputing NextRunAt for each. Schedules
// whose recomputed NextRunAt is past EndDate become inactive. The
// scheduler never invokes anything else — it only returns fired
// schedules to the caller.
func (s *Scheduler) Tick(now time.Time) []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []Schedule
	for _, sched := range s.schedules {
		if !sched.Active || sched.NextRunAt.IsZero() || sched.NextRunAt.After(now) {
			continue
		}

		firedAt := now
		sched.LastRunAt = &firedAt

		next, ok := sched.expr.Next(now)
		if !ok {
			sched.Active = false
			sched.NextRunAt = time.Time{}
		} else {
			sched.NextRunAt = next
		}

		if sched.EndDate != nil && sched.NextRunAt.After(*sched.EndDate) {
			sched.Active = false
		}
		if sched.EndDate != nil && now.After(*sched.EndDate) {
			sched.Active = false
		}

		cp := *sched
		fired = append(fired, cp)
	}
	return fired
}

// Pause deactivates a schedule without removing it.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sched.Active = false
	return nil
}

// Resume reactivates a paused schedule.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sched.Active = true
	return nil
}

// Remove deletes a schedule entirely.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	delete(s.byWorkflow, sched.WorkflowID)
	return nil
}

// ErrNotFound is returned by Pause/Resume/Remove for an unknown id.
var ErrNotFound = errors.New("cron: schedule not found")

// Get returns a copy of the schedule record for id.
func (s *Scheduler) Get(id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sched
	return &cp, nil
}
