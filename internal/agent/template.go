// Package agent provides agent template configuration, the instance
// lifecycle state machine, and the AgentBridge that the kernel
// dispatches agent-shaped requests to.
package agent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PermissionAction mirrors the allow/deny/ask vocabulary used
// throughout the pack's agent-permission configs, scoped down here to
// the one thing a kernel agent template still needs: whether a tool
// is enabled for an agent.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionDeny  PermissionAction = "deny"
	ActionAsk   PermissionAction = "ask"
)

// Mode represents the agent operation mode.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// Template is a named agent configuration that AgentBridge.CreateAgent
// and AgentBridge.CreateFromTemplate instantiate instances from.
type Template struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Mode        Mode              `json:"mode"`
	BuiltIn     bool              `json:"builtIn"`
	Tools       map[string]bool   `json:"tools"`
	Options     map[string]any    `json:"options,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	TopP        float64           `json:"topP,omitempty"`
	Model       *ModelRef         `json:"model,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
	Delegates   []string          `json:"delegates,omitempty"` // composite agent: delegate template names
}

// ToolEnabled checks if a tool is enabled for this template, honoring
// wildcard patterns (see matchWildcard). A tool that no entry names or
// matches is enabled.
func (a *Template) ToolEnabled(toolID string) bool {
	if enabled, ok := a.Tools[toolID]; ok {
		return enabled
	}
	for pattern, enabled := range a.Tools {
		if matchWildcard(pattern, toolID) {
			return enabled
		}
	}
	return true
}

// IsPrimary returns true if the template can be used as a primary agent.
func (a *Template) IsPrimary() bool { return a.Mode == ModePrimary || a.Mode == ModeAll }

// IsSubagent returns true if the template can be used as a subagent.
func (a *Template) IsSubagent() bool { return a.Mode == ModeSubagent || a.Mode == ModeAll }

// Clone creates a deep copy of the template.
func (a *Template) Clone() *Template {
	clone := &Template{
		Name:        a.Name,
		Description: a.Description,
		Mode:        a.Mode,
		BuiltIn:     a.BuiltIn,
		Temperature: a.Temperature,
		TopP:        a.TopP,
		Prompt:      a.Prompt,
	}
	if a.Tools != nil {
		clone.Tools = make(map[string]bool, len(a.Tools))
		for k, v := range a.Tools {
			clone.Tools[k] = v
		}
	}
	if a.Options != nil {
		clone.Options = make(map[string]any, len(a.Options))
		for k, v := range a.Options {
			clone.Options[k] = v
		}
	}
	if a.Model != nil {
		ref := *a.Model
		clone.Model = &ref
	}
	if a.Delegates != nil {
		clone.Delegates = append([]string(nil), a.Delegates...)
	}
	return clone
}

// matchWildcard checks if s matches pattern, using simple prefix/suffix
// checks for the common cases and doublestar for anything more exotic.
func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}
	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	return pattern == s
}

// BuiltInTemplates returns the default agent template configurations.
func BuiltInTemplates() map[string]*Template {
	return map[string]*Template{
		"basic": {
			Name:        "basic",
			Description: "General-purpose primary agent with all tools enabled",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Tools:       map[string]bool{"*": true},
		},
		"planner": {
			Name:        "planner",
			Description: "Planning agent for analysis without making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Tools: map[string]bool{
				"read": true, "glob": true, "grep": true, "edit": false, "write": false,
			},
		},
		"explorer": {
			Name:        "explorer",
			Description: "Subagent specialized for read-only exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			Tools: map[string]bool{
				"read": true, "glob": true, "grep": true, "edit": false, "write": false, "bash": false,
			},
		},
	}
}
