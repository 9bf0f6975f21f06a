package workflow

import (
	"github.com/nchat/core/internal/cron"
	"github.com/nchat/core/internal/trigger"
)

// ToCronTrigger projects a workflow Trigger into the minimal shape
// internal/cron.Scheduler needs, keeping cron free of any workflow
// import.
func (t Trigger) ToCronTrigger() cron.ScheduleTrigger {
	if t.Kind != TriggerSchedule || t.Schedule == nil {
		return cron.ScheduleTrigger{IsSchedule: false}
	}
	return cron.ScheduleTrigger{
		IsSchedule:     true,
		CronExpression: t.Schedule.CronExpression,
		Timezone:       t.Schedule.Timezone,
		StartDate:      t.Schedule.StartDate,
		EndDate:        t.Schedule.EndDate,
	}
}

// ToTriggerSpec projects a workflow Trigger into the shape
// internal/trigger.Engine matches against, keeping trigger free of
// any workflow import.
func (t Trigger) ToTriggerSpec() trigger.Spec {
	switch t.Kind {
	case TriggerManual:
		spec := trigger.Spec{Kind: trigger.KindManual}
		if t.Manual != nil {
			spec.AllowedUserIDs = t.Manual.AllowedUserIDs
			spec.AllowedRoles = t.Manual.AllowedRoles
		}
		return spec
	case TriggerEvent:
		spec := trigger.Spec{Kind: trigger.KindEvent}
		if t.Event != nil {
			spec.EventType = t.Event.EventType
			spec.ChannelIDs = t.Event.ChannelIDs
			spec.UserIDs = t.Event.UserIDs
			spec.Conditions = t.Event.Conditions
		}
		return spec
	case TriggerWebhook:
		spec := trigger.Spec{Kind: trigger.KindWebhook}
		if t.Webhook != nil {
			spec.Methods = t.Webhook.Methods
			spec.Secret = t.Webhook.Secret
			spec.Conditions = t.Webhook.Conditions
		}
		return spec
	case TriggerSchedule:
		return trigger.Spec{Kind: trigger.KindSchedule}
	default:
		return trigger.Spec{}
	}
}
