package workflow

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/nchat/core/internal/cron"
)

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _-]*$`)

const (
	maxNameLen          = 128
	minSteps            = 1
	maxSteps            = 50
	maxTags             = 20
	maxApprovalTimeout  = 86_400_000
	maxDelayDurationMs  = 3_600_000
)

var allowedWebhookMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Validate checks d against the structural and field rules of the
// workflow definition format: unique step IDs and names, resolvable
// dependsOn references, cycle-freedom (DFS three-color detection,
// generalized from internal/plan/sop_graph.go's flat Order-based
// getOrderedSteps), and the per-field constraints on names, tags,
// triggers, and action payload limits. Returns every violation found,
// joined via errors.Join, rather than stopping at the first.
func Validate(d Definition) error {
	var errs []error

	if d.Name == "" || len(d.Name) > maxNameLen || !nameRe.MatchString(d.Name) {
		errs = append(errs, fmt.Errorf("workflow: invalid name %q", d.Name))
	}
	if len(d.Tags) > maxTags {
		errs = append(errs, fmt.Errorf("workflow: too many tags (%d > %d)", len(d.Tags), maxTags))
	}
	if len(d.Steps) < minSteps || len(d.Steps) > maxSteps {
		errs = append(errs, fmt.Errorf("workflow: step count %d out of range [%d,%d]", len(d.Steps), minSteps, maxSteps))
	}

	errs = append(errs, validateSteps(d.Steps)...)
	errs = append(errs, validateTrigger(d.Trigger)...)

	return errors.Join(errs...)
}

func validateSteps(steps []Step) []error {
	var errs []error

	ids := make(map[string]bool, len(steps))
	names := make(map[string]bool, len(steps))
	for _, s := range steps {
		if ids[s.ID] {
			errs = append(errs, fmt.Errorf("workflow: duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("workflow: duplicate step name %q", s.Name))
		}
		names[s.Name] = true
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				errs = append(errs, fmt.Errorf("workflow: step %q depends on unknown step %q", s.ID, dep))
			}
		}
		errs = append(errs, validateAction(s)...)
	}

	if cyc, ok := findCycle(steps); ok {
		errs = append(errs, fmt.Errorf("workflow: dependency cycle detected: %v", cyc))
	}

	return errs
}

func validateAction(s Step) []error {
	var errs []error
	a := s.Action
	switch a.Kind {
	case ActionDelay:
		if a.Delay == nil || a.Delay.DurationMs < 0 || a.Delay.DurationMs > maxDelayDurationMs {
			errs = append(errs, fmt.Errorf("workflow: step %q delay.durationMs out of range [0,%d]", s.ID, maxDelayDurationMs))
		}
	case ActionApproval:
		if a.Approval == nil {
			break
		}
		if a.Approval.TimeoutMs < 0 || a.Approval.TimeoutMs > maxApprovalTimeout {
			errs = append(errs, fmt.Errorf("workflow: step %q approval.timeoutMs out of range [0,%d]", s.ID, maxApprovalTimeout))
		}
		if a.Approval.MinApprovals < 1 {
			errs = append(errs, fmt.Errorf("workflow: step %q approval.minApprovals must be >= 1", s.ID))
		}
	}
	return errs
}

// findCycle runs a DFS over dependsOn; its color map tracks visitation
// for cycle detection: 0=unvisited, 1=in progress, 2=done.
func findCycle(steps []Step) ([]string, bool) {
	byID := make(map[string]Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	color := make(map[string]int, len(steps))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = 1
		path = append(path, id)
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch color[dep] {
			case 1:
				return append(append([]string{}, path...), dep), true
			case 0:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = 2
		return nil, false
	}

	for _, s := range steps {
		if color[s.ID] == 0 {
			if cyc, found := visit(s.ID); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

func validateTrigger(t Trigger) []error {
	var errs []error
	switch t.Kind {
	case TriggerEvent:
		if t.Event == nil || t.Event.EventType == "" {
			errs = append(errs, errors.New("workflow: trigger.event.eventType must be non-empty"))
		}
	case TriggerWebhook:
		if t.Webhook == nil || len(t.Webhook.Methods) == 0 {
			errs = append(errs, errors.New("workflow: trigger.webhook.methods must be non-empty"))
			break
		}
		for _, m := range t.Webhook.Methods {
			if !allowedWebhookMethods[m] {
				errs = append(errs, fmt.Errorf("workflow: trigger.webhook.methods contains unsupported method %q", m))
			}
		}
	case TriggerSchedule:
		if t.Schedule == nil {
			errs = append(errs, errors.New("workflow: trigger.schedule requires a cron expression"))
			break
		}
		if _, err := cron.Parse(t.Schedule.CronExpression); err != nil {
			errs = append(errs, fmt.Errorf("workflow: trigger.schedule.cronExpression invalid: %w", err))
		}
	}
	return errs
}
