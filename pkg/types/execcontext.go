package types

// InheritancePolicy governs how a child ExecutionContext is derived
// from a parent.
type InheritancePolicy string

const (
	InheritIsolate InheritancePolicy = "isolate" // empty data, no relation to parent security
	InheritCopy    InheritancePolicy = "copy"    // snapshot parent data once, no live link
	InheritShare   InheritancePolicy = "share"   // same underlying data map as parent
	InheritInherit InheritancePolicy = "inherit" // parent data visible, child overlays on top
)

// SecurityContext carries the permission set and trust level attached
// to an ExecutionContext.
type SecurityContext struct {
	Permissions []string `json:"permissions"`
	Level       string   `json:"level"` // e.g. "user" | "agent" | "system"
}

// ExecutionContext is an immutable snapshot passed to collaborators
// (tools, agents) that need addressing and security information
// without owning a reference back into the kernel.
type ExecutionContext struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversationID"`
	UserID           string            `json:"userID"`
	SessionID        string            `json:"sessionID"`
	Scope            Scope             `json:"scope"`
	InheritancePolicy InheritancePolicy `json:"inheritancePolicy"`
	Data             map[string]any    `json:"data"`
	Security         SecurityContext   `json:"security"`
	ParentID         string            `json:"parentID,omitempty"`
}
