package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_MatchEvent_MatchesOnTypeChannelUserAndConditions(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{
		Kind:       KindEvent,
		EventType:  "message.created",
		ChannelIDs: []string{"chan-1"},
		Conditions: []Condition{{Field: "text", Operator: OpContains, Value: "urgent"}},
	})

	payload := map[string]interface{}{"text": "this is urgent"}
	matched := e.MatchEvent("message.created", "chan-1", "user-1", payload)
	assert.Equal(t, []string{"wf-1"}, matched)

	matched = e.MatchEvent("message.created", "chan-2", "user-1", payload)
	assert.Empty(t, matched)

	matched = e.MatchEvent("message.created", "chan-1", "user-1", map[string]interface{}{"text": "routine"})
	assert.Empty(t, matched)
}

func TestEngine_MatchEvent_IgnoresDisabledWorkflows(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", false, Spec{Kind: KindEvent, EventType: "message.created"})

	matched := e.MatchEvent("message.created", "chan-1", "user-1", nil)
	assert.Empty(t, matched)
}

func TestEngine_MatchEvent_NoFiltersMatchesAnyChannelOrUser(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindEvent, EventType: "message.created"})

	matched := e.MatchEvent("message.created", "chan-anything", "user-anything", nil)
	assert.Equal(t, []string{"wf-1"}, matched)
}

func TestEngine_MatchWebhook_RejectsWrongMethod(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindWebhook, Methods: []string{"POST"}})

	ok, err := e.MatchWebhook("wf-1", "GET", []byte("{}"), "", nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_MatchWebhook_VerifiesSignatureWhenSecretSet(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindWebhook, Methods: []string{"POST"}, Secret: "shh"})

	body := []byte(`{"event":"ping"}`)
	validSig := SignPayload(body, "shh")

	ok, err := e.MatchWebhook("wf-1", "POST", body, validSig, nil)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.MatchWebhook("wf-1", "POST", body, "deadbeef", nil)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.False(t, ok)
}

func TestEngine_MatchWebhook_UnknownWorkflow(t *testing.T) {
	e := NewEngine()
	ok, err := e.MatchWebhook("missing", "POST", nil, "", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
	assert.False(t, ok)
}

func TestEngine_MatchWebhook_EvaluatesConditions(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{
		Kind:       KindWebhook,
		Methods:    []string{"POST"},
		Conditions: []Condition{{Field: "action", Operator: OpEquals, Value: "opened"}},
	})

	ok, err := e.MatchWebhook("wf-1", "POST", nil, "", map[string]interface{}{"action": "opened"})
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.MatchWebhook("wf-1", "POST", nil, "", map[string]interface{}{"action": "closed"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_MatchManual_NoRestrictionsAllowsAnyone(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindManual})
	assert.True(t, e.MatchManual("wf-1", "anyone", nil))
}

func TestEngine_MatchManual_AllowedUserID(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindManual, AllowedUserIDs: []string{"user-1"}})

	assert.True(t, e.MatchManual("wf-1", "user-1", nil))
	assert.False(t, e.MatchManual("wf-1", "user-2", nil))
}

func TestEngine_MatchManual_AllowedRoleIntersection(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindManual, AllowedRoles: []string{"admin"}})

	assert.True(t, e.MatchManual("wf-1", "user-1", []string{"member", "admin"}))
	assert.False(t, e.MatchManual("wf-1", "user-1", []string{"member"}))
}

func TestEngine_MatchManual_DisabledOrUnknownNeverMatches(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", false, Spec{Kind: KindManual})
	assert.False(t, e.MatchManual("wf-1", "user-1", nil))
	assert.False(t, e.MatchManual("missing", "user-1", nil))
}

func TestEngine_SetEnabled_AndUnregister(t *testing.T) {
	e := NewEngine()
	e.Register("wf-1", true, Spec{Kind: KindManual})
	e.SetEnabled("wf-1", false)
	assert.False(t, e.MatchManual("wf-1", "user-1", nil))

	e.SetEnabled("wf-1", true)
	assert.True(t, e.MatchManual("wf-1", "user-1", nil))

	e.Unregister("wf-1")
	assert.False(t, e.MatchManual("wf-1", "user-1", nil))
}
