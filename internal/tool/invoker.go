package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/llmkernel/kernel/internal/capability"
)

// Invoker adapts a *Registry to capability.ToolInvoker, the shape
// tool_request handlers and AgentBridge's agent-as-tool wrapping
// expect. params comes in as a decoded JSON object; it is
// re-marshaled to the json.RawMessage each Tool.Execute expects.
type Invoker struct {
	registry *Registry
	workDir  string
}

// NewInvoker wraps registry as a capability.ToolInvoker.
func NewInvoker(registry *Registry, workDir string) *Invoker {
	return &Invoker{registry: registry, workDir: workDir}
}

func (v *Invoker) Invoke(ctx context.Context, name string, params map[string]any) capability.ToolResult {
	t, ok := v.registry.Get(name)
	if !ok {
		return capability.ToolResult{Err: fmt.Errorf("tool not found: %s", name)}
	}

	input, err := json.Marshal(params)
	if err != nil {
		return capability.ToolResult{Err: err}
	}

	toolCtx := &Context{WorkDir: v.workDir, Extra: params}
	if sid, ok := params["session_id"].(string); ok {
		toolCtx.SessionID = sid
	}

	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		return capability.ToolResult{Err: err}
	}
	return capability.ToolResult{Output: result.Output, Metadata: result.Metadata, Err: result.Error}
}

func (v *Invoker) Exists(name string) bool {
	_, ok := v.registry.Get(name)
	return ok
}

func (v *Invoker) Names() []string {
	return v.registry.IDs()
}
