package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmkernel/kernel/pkg/types"
)

// Instance is a running agent created from a Template. The kernel
// addresses instances by name; the name doubles as the agent's tool
// name ("<name>_tool") when it is exposed to other agents as a tool.
type Instance struct {
	Name         string
	TemplateName string
	Template     *Template
	CreatedAt    time.Time

	mu       sync.RWMutex
	contexts map[string]*types.ExecutionContext
}

// snapshot is the serializable form of an Instance used by
// SaveAgentState/LoadAgentState.
type snapshot struct {
	Name         string       `json:"name"`
	TemplateName string       `json:"templateName"`
	State        State        `json:"state"`
	History      []Transition `json:"history"`
	SavedAt      time.Time    `json:"savedAt"`
}

// ToolName is the synthesized tool registry entry name for this
// instance when wrapped as a tool ("<agent>_tool").
func (i *Instance) ToolName() string { return i.Name + "_tool" }

// agentEntry pairs an Instance with its lifecycle machine so the two
// can be looked up and mutated together under one lock.
type agentEntry struct {
	instance *Instance
	machine  *Machine
}

// Bridge is the AgentBridge: it owns every live agent instance, its
// lifecycle machine, per-agent execution contexts, and a process-wide
// shared memory map keyed by (scope, key). The kernel's memory_request
// and context_request handlers call into it.
type Bridge struct {
	templates *TemplateRegistry

	mu      sync.RWMutex
	agents  map[string]*agentEntry
	saved   map[string]snapshot // instance_name -> last saved snapshot

	sharedMu sync.RWMutex
	shared   map[string]map[string]any // scope.String() -> key -> value
}

// NewBridge creates a Bridge backed by the given template registry.
func NewBridge(templates *TemplateRegistry) *Bridge {
	return &Bridge{
		templates: templates,
		agents:    make(map[string]*agentEntry),
		saved:     make(map[string]snapshot),
		shared:    make(map[string]map[string]any),
	}
}

// ErrAgentExists is returned by CreateAgent/CreateFromTemplate when the
// instance name is already taken.
type ErrAgentExists struct{ Name string }

func (e *ErrAgentExists) Error() string { return fmt.Sprintf("agent already exists: %s", e.Name) }

// ErrAgentNotFound is returned whenever an instance name does not
// resolve to a live agent.
type ErrAgentNotFound struct{ Name string }

func (e *ErrAgentNotFound) Error() string { return fmt.Sprintf("agent not found: %s", e.Name) }

// ErrDelegateNotFound is returned by CreateFromTemplate when a
// composite template names a delegate that is not itself a registered
// template. Delegates must all exist at creation time.
type ErrDelegateNotFound struct {
	Template string
	Delegate string
}

func (e *ErrDelegateNotFound) Error() string {
	return fmt.Sprintf("template %q references unknown delegate %q", e.Template, e.Delegate)
}

// CreateFromTemplate instantiates a new agent named instanceName from
// the named template. Composite templates (Delegates non-empty) are
// validated eagerly: every delegate must already resolve to a
// registered template, or creation fails without mutating the agent
// map.
func (b *Bridge) CreateFromTemplate(instanceName, templateName string) (*Instance, error) {
	tpl, err := b.templates.Get(templateName)
	if err != nil {
		return nil, err
	}
	for _, delegate := range tpl.Delegates {
		if !b.templates.Exists(delegate) {
			return nil, &ErrDelegateNotFound{Template: templateName, Delegate: delegate}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.agents[instanceName]; exists {
		return nil, &ErrAgentExists{Name: instanceName}
	}

	inst := &Instance{
		Name:         instanceName,
		TemplateName: templateName,
		Template:     tpl.Clone(),
		CreatedAt:    time.Now(),
		contexts:     make(map[string]*types.ExecutionContext),
	}
	machine := NewMachine()
	if err := machine.Initialize(); err != nil {
		return nil, err
	}
	b.agents[instanceName] = &agentEntry{instance: inst, machine: machine}
	return inst, nil
}

// CreateAgent is a convenience wrapper instantiating an instance whose
// name also serves as the template name (self-named single-agent
// setups), failing if either the template is missing or the name is
// already taken.
func (b *Bridge) CreateAgent(name string) (*Instance, error) {
	return b.CreateFromTemplate(name, name)
}

// Get retrieves a live instance and its lifecycle machine by name.
func (b *Bridge) Get(name string) (*Instance, *Machine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.agents[name]
	if !ok {
		return nil, nil, &ErrAgentNotFound{Name: name}
	}
	return entry.instance, entry.machine, nil
}

// List returns the names of every live agent instance.
func (b *Bridge) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.agents))
	for name := range b.agents {
		out = append(out, name)
	}
	return out
}

// Remove terminates and drops an instance. Terminating an already
// terminated machine is a no-op error that Remove ignores, since the
// goal here is removal, not a clean lifecycle transition.
func (b *Bridge) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.agents[name]
	if !ok {
		return &ErrAgentNotFound{Name: name}
	}
	_ = entry.machine.Terminate("removed")
	delete(b.agents, name)
	return nil
}

// ExecuteFunc runs one step of agent logic against a prompt. Reference
// ScriptExecutor/ProviderManager collaborators are plugged in here by
// the kernel; the Bridge itself only owns lifecycle and addressing.
type ExecuteFunc func(ctx context.Context, inst *Instance, execCtx *types.ExecutionContext, input string) (string, error)

// ExecuteAgent drives one instance through Start (if Ready) and back
// to Ready, invoking fn while the machine is Running. A non-nil error
// from fn transitions the machine to Error rather than propagating a
// panic out of the kernel's request loop.
func (b *Bridge) ExecuteAgent(ctx context.Context, name string, execCtx *types.ExecutionContext, input string, fn ExecuteFunc) (string, error) {
	inst, machine, err := b.Get(name)
	if err != nil {
		return "", err
	}

	if machine.Current() == StateReady {
		if err := machine.Start(); err != nil {
			return "", err
		}
	}
	if machine.Current() != StateRunning {
		return "", &InvalidTransitionError{From: machine.Current(), Op: "execute"}
	}

	out, runErr := fn(ctx, inst, execCtx, input)
	if runErr != nil {
		_ = machine.Error(runErr.Error())
		return "", runErr
	}
	if err := machine.Stop(); err != nil {
		return "", err
	}
	return out, nil
}

// CreateContext creates a root execution context for an instance. An
// empty policy defaults to Isolate.
func (b *Bridge) CreateContext(instanceName, conversationID, userID, sessionID string, policy types.InheritancePolicy) (*types.ExecutionContext, error) {
	inst, _, err := b.Get(instanceName)
	if err != nil {
		return nil, err
	}
	if policy == "" {
		policy = types.InheritIsolate
	}

	ec := &types.ExecutionContext{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		UserID:            userID,
		SessionID:         sessionID,
		Scope:             types.AgentScope(instanceName),
		InheritancePolicy: policy,
		Data:              make(map[string]any),
	}

	inst.mu.Lock()
	inst.contexts[ec.ID] = ec
	inst.mu.Unlock()
	return ec, nil
}

// CreateChildContext derives a new context from parentID according to
// the parent's inheritance policy. The relation recorded is parentage,
// not ownership: terminating the child never mutates the parent.
func (b *Bridge) CreateChildContext(instanceName, parentID string) (*types.ExecutionContext, error) {
	inst, _, err := b.Get(instanceName)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	parent, ok := inst.contexts[parentID]
	if !ok {
		return nil, fmt.Errorf("execution context not found: %s", parentID)
	}

	child := &types.ExecutionContext{
		ID:                uuid.NewString(),
		ConversationID:    parent.ConversationID,
		UserID:            parent.UserID,
		SessionID:         parent.SessionID,
		Scope:             parent.Scope,
		InheritancePolicy: parent.InheritancePolicy,
		Security:          parent.Security,
		ParentID:          parent.ID,
		Data:              make(map[string]any),
	}

	switch parent.InheritancePolicy {
	case types.InheritCopy:
		for k, v := range parent.Data {
			child.Data[k] = v
		}
	case types.InheritShare:
		child.Data = parent.Data
	case types.InheritInherit:
		for k, v := range parent.Data {
			child.Data[k] = v
		}
	case types.InheritIsolate:
		// child.Data stays empty
	}

	inst.contexts[child.ID] = child
	return child, nil
}

// SetShared writes a value into the process-wide shared memory map
// keyed by (scope, key). Agents in the same scope observe each other's
// writes immediately; there is no copy-on-read.
func (b *Bridge) SetShared(scope types.Scope, key string, value any) {
	b.sharedMu.Lock()
	defer b.sharedMu.Unlock()
	bucket, ok := b.shared[scope.String()]
	if !ok {
		bucket = make(map[string]any)
		b.shared[scope.String()] = bucket
	}
	bucket[key] = value
}

// GetShared reads a value from shared memory, reporting whether the
// key was present.
func (b *Bridge) GetShared(scope types.Scope, key string) (any, bool) {
	b.sharedMu.RLock()
	defer b.sharedMu.RUnlock()
	bucket, ok := b.shared[scope.String()]
	if !ok {
		return nil, false
	}
	v, ok := bucket[key]
	return v, ok
}

// SaveAgentState snapshots an instance's lifecycle state and
// transition history into the Bridge's in-memory saved-state table.
//
// Open question resolved: LoadAgentState below reports presence and
// returns the saved snapshot's state/history to the caller rather than
// mutating the live machine. Replaying history onto a running instance
// would let a stale snapshot silently roll back in-flight work; a
// caller that wants the agent actually reset should terminate and
// recreate it from the template, then apply whatever data the
// snapshot implies. This keeps LoadAgentState safe to call against a
// live agent purely for inspection (e.g. diagnostics, audits).
func (b *Bridge) SaveAgentState(name string) error {
	inst, machine, err := b.Get(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved[name] = snapshot{
		Name:         inst.Name,
		TemplateName: inst.TemplateName,
		State:        machine.Current(),
		History:      machine.History(),
		SavedAt:      time.Now(),
	}
	return nil
}

// LoadResult is the outcome of LoadAgentState: whether a snapshot
// exists, and if so its last-known state and transition history.
type LoadResult struct {
	Found   bool
	State   State
	History []Transition
	SavedAt time.Time
}

// LoadAgentState reports the last snapshot saved for name without
// mutating any live Instance or Machine (see SaveAgentState doc).
func (b *Bridge) LoadAgentState(name string) LoadResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.saved[name]
	if !ok {
		return LoadResult{Found: false}
	}
	return LoadResult{Found: true, State: snap.State, History: snap.History, SavedAt: snap.SavedAt}
}

// ListSavedAgents returns the names of every instance with a saved
// snapshot, regardless of whether that instance is still live.
func (b *Bridge) ListSavedAgents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.saved))
	for name := range b.saved {
		out = append(out, name)
	}
	return out
}
