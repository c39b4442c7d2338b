package types

import "fmt"

// ScopeKind enumerates the addressing dimensions of the state store
// and the AgentBridge's shared-memory map.
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeSession  ScopeKind = "session"
	ScopeWorkflow ScopeKind = "workflow"
	ScopeAgent    ScopeKind = "agent"
	ScopeUser     ScopeKind = "user"
	ScopeHook     ScopeKind = "hook"
	ScopeTool     ScopeKind = "tool"
	ScopeCustom   ScopeKind = "custom"
)

// Scope identifies a specific scope instance, e.g. Workflow("w1").
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func (s Scope) String() string {
	if s.ID == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.ID)
}

// Global is the process-wide scope with no instance id.
var Global = Scope{Kind: ScopeGlobal}

// SessionScope returns the scope for a given session id.
func SessionScope(id string) Scope { return Scope{Kind: ScopeSession, ID: id} }

// WorkflowScope returns the scope for a given workflow id.
func WorkflowScope(id string) Scope { return Scope{Kind: ScopeWorkflow, ID: id} }

// AgentScope returns the scope for a given agent instance name.
func AgentScope(id string) Scope { return Scope{Kind: ScopeAgent, ID: id} }

// UserScope returns the scope for a given user id.
func UserScope(id string) Scope { return Scope{Kind: ScopeUser, ID: id} }

// HookScope returns the scope for a given hook id.
func HookScope(id string) Scope { return Scope{Kind: ScopeHook, ID: id} }

// ToolScope returns the scope for a given tool id.
func ToolScope(id string) Scope { return Scope{Kind: ScopeTool, ID: id} }

// CustomScope returns a scope with a caller-defined kind instance id.
func CustomScope(id string) Scope { return Scope{Kind: ScopeCustom, ID: id} }

// StateClass selects which write path the state store uses for an
// entry.
type StateClass string

const (
	ClassEphemeral StateClass = "ephemeral"
	ClassTrusted   StateClass = "trusted"
	ClassStandard  StateClass = "standard"
	ClassSensitive StateClass = "sensitive"
	ClassExternal  StateClass = "external"
)

// InferClass infers a StateClass from a key prefix when the caller did
// not supply one explicitly.
func InferClass(key string) StateClass {
	switch {
	case hasPrefix(key, "benchmark:"), hasPrefix(key, "test:"):
		return ClassTrusted
	case hasPrefix(key, "cache:"), hasPrefix(key, "temp:"):
		return ClassEphemeral
	default:
		return ClassStandard
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// StateEntry is one scoped key/value record.
type StateEntry struct {
	Scope     Scope      `json:"scope"`
	Key       string     `json:"key"`
	Value     any        `json:"value"`
	Class     StateClass `json:"class"`
	UpdatedAt int64      `json:"updatedAt"`
}

// QualifiedKey builds the "{scope-prefix}:{user-key}" storage key.
func QualifiedKey(scope Scope, key string) string {
	return scope.String() + ":" + key
}
