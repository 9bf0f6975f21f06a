package execution

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nchat/core/internal/trigger"
	"github.com/nchat/core/internal/workflow"
)

// ActionHandler executes a single step's action against the run's
// context and returns the value recorded under the step's outputKey.
type ActionHandler func(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error)

// defaultHandlers returns the built-in action dispatch table, keyed
// by action kind per spec.md §4.9's "registry keyed by action-type".
// approval is handled directly by the Engine (it suspends the run)
// rather than through this registry.
func defaultHandlers() map[workflow.ActionKind]ActionHandler {
	return map[workflow.ActionKind]ActionHandler{
		workflow.ActionSendMessage:       handleSendMessage,
		workflow.ActionHTTPRequest:       handleHTTPRequest,
		workflow.ActionSetVariable:       handleSetVariable,
		workflow.ActionDelay:             handleDelay,
		workflow.ActionTransformData:     handleTransformData,
		workflow.ActionConditionalBranch: handleConditionalBranch,
	}
}

func handleSendMessage(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
	a := step.Action.SendMessage
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: send_message action missing payload", step.ID)
	}
	content := trigger.Interpolate(a.Content, contextMap(rc))
	return map[string]interface{}{"channelId": a.ChannelID, "content": content}, nil
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func handleHTTPRequest(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
	a := step.Action.HTTPRequest
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: http_request action missing payload", step.ID)
	}
	method := a.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("execution: step %q: building request: %w", step.ID, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execution: step %q: request failed: %w", step.ID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return map[string]interface{}{"statusCode": resp.StatusCode, "body": string(body)}, nil
}

func handleSetVariable(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
	a := step.Action.SetVariable
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: set_variable action missing payload", step.ID)
	}
	rc.Variables[a.Name] = a.Value
	return a.Value, nil
}

func handleDelay(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
	a := step.Action.Delay
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: delay action missing payload", step.ID)
	}
	timer := time.NewTimer(time.Duration(a.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func handleTransformData(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
	a := step.Action.TransformData
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: transform_data action missing payload", step.ID)
	}
	// The transform expression language is execution-engine defined;
	// the conformant default is an identity passthrough of Input.
	return a.Input, nil
}

func handleConditionalBranch(ctx context.Context, rc *Context, step workflow.Step) (interface{}, error) {
	a := step.Action.ConditionalBranch
	if a == nil {
		return nil, fmt.Errorf("execution: step %q: conditional_branch action missing payload", step.ID)
	}
	ctxMap := contextMap(rc)
	for _, b := range a.Branches {
		if trigger.EvaluateAll(b.Conditions, ctxMap) {
			return map[string]interface{}{"branch": b.Name, "matched": true, "stepIds": b.StepIDs}, nil
		}
	}
	return map[string]interface{}{"branch": "", "matched": false, "stepIds": a.DefaultSteps}, nil
}
