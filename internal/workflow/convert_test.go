package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nchat/core/internal/trigger"
)

func TestToCronTrigger_NonScheduleYieldsDisabled(t *testing.T) {
	tr := Trigger{Kind: TriggerManual}
	ct := tr.ToCronTrigger()
	assert.False(t, ct.IsSchedule)
}

func TestToCronTrigger_SchedulePassesFieldsThrough(t *testing.T) {
	tr := Trigger{Kind: TriggerSchedule, Schedule: &ScheduleTrigger{CronExpression: "0 10 * * *", Timezone: "UTC"}}
	ct := tr.ToCronTrigger()
	assert.True(t, ct.IsSchedule)
	assert.Equal(t, "0 10 * * *", ct.CronExpression)
	assert.Equal(t, "UTC", ct.Timezone)
}

func TestToTriggerSpec_Event(t *testing.T) {
	tr := Trigger{Kind: TriggerEvent, Event: &EventTrigger{
		EventType:  "message.created",
		ChannelIDs: []string{"c1"},
		Conditions: []trigger.Condition{{Field: "x", Operator: trigger.OpExists}},
	}}
	spec := tr.ToTriggerSpec()
	assert.Equal(t, trigger.KindEvent, spec.Kind)
	assert.Equal(t, "message.created", spec.EventType)
	assert.Equal(t, []string{"c1"}, spec.ChannelIDs)
	assert.Len(t, spec.Conditions, 1)
}

func TestToTriggerSpec_Manual(t *testing.T) {
	tr := Trigger{Kind: TriggerManual, Manual: &ManualTrigger{AllowedRoles: []string{"admin"}}}
	spec := tr.ToTriggerSpec()
	assert.Equal(t, trigger.KindManual, spec.Kind)
	assert.Equal(t, []string{"admin"}, spec.AllowedRoles)
}

func TestToTriggerSpec_Webhook(t *testing.T) {
	tr := Trigger{Kind: TriggerWebhook, Webhook: &WebhookTrigger{Methods: []string{"POST"}, Secret: "s"}}
	spec := tr.ToTriggerSpec()
	assert.Equal(t, trigger.KindWebhook, spec.Kind)
	assert.Equal(t, []string{"POST"}, spec.Methods)
	assert.Equal(t, "s", spec.Secret)
}
