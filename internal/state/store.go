// Package state implements the kernel's scoped, classed key/value
// store: every entry is addressed by (Scope, key) and classified
// (Ephemeral/Trusted/Standard/Sensitive/External), and the class picks
// which write path an entry takes.
package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/hook"
	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/pkg/types"
)

// PreHook runs before a Sensitive/External write is committed. It may
// cancel the write (returning ok=false) or rewrite the value before it
// is stored.
type PreHook func(entry types.StateEntry) (value any, ok bool)

// Store holds every scope's entries in memory and mirrors
// Trusted/Standard/Sensitive/External writes to a StorageBackend.
// Ephemeral entries never reach the backend, regardless of
// configuration — the in-memory map is their only home.
type Store struct {
	backend capability.StorageBackend
	hooks   *hook.Engine // post-hook fan-out; nil disables it

	mu      sync.RWMutex
	entries map[string]types.StateEntry // QualifiedKey -> entry

	hookMu    sync.RWMutex
	preHooks  []PreHook
}

// NewStore creates a Store backed by backend. backend may be nil, in
// which case nothing is persisted: entries of every class stay in
// memory only, while pre-hooks and post-hooks still run by class
// (useful for tests and for scopes that are deliberately memory-only).
func NewStore(backend capability.StorageBackend) *Store {
	return &Store{backend: backend, entries: make(map[string]types.StateEntry)}
}

// WithHooks attaches the async post-hook engine. Standard/Trusted/
// Sensitive/External writes fire a "state.set" event after they
// commit; Ephemeral writes never fire hooks at all.
func (s *Store) WithHooks(engine *hook.Engine) *Store {
	s.hooks = engine
	return s
}

// AddPreHook registers a hook invoked for every Sensitive/External
// write, in registration order. The first hook to cancel wins; later
// hooks do not run.
func (s *Store) AddPreHook(preHook PreHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.preHooks = append(s.preHooks, preHook)
}

// Set writes value at (scope, key). If class is empty, it is inferred
// from the key via types.InferClass.
func (s *Store) Set(ctx context.Context, scope types.Scope, key string, value any, class types.StateClass) error {
	if class == "" {
		class = types.InferClass(key)
	}

	entry := types.StateEntry{Scope: scope, Key: key, Value: value, Class: class, UpdatedAt: time.Now().UnixMilli()}

	switch class {
	case types.ClassSensitive, types.ClassExternal:
		ok, finalValue, err := s.runPreHooks(entry)
		if err != nil {
			return err
		}
		if !ok {
			return kernelerr.Hook("pre-hook cancelled write to %s", types.QualifiedKey(scope, key))
		}
		entry.Value = finalValue
		if err := s.persist(ctx, entry); err != nil {
			return err
		}
	case types.ClassTrusted, types.ClassStandard:
		if err := s.persist(ctx, entry); err != nil {
			return err
		}
	case types.ClassEphemeral:
		// memory-only: no persistence call at all.
	}

	s.mu.Lock()
	s.entries[types.QualifiedKey(scope, key)] = entry
	s.mu.Unlock()

	if s.hooks != nil && class != types.ClassEphemeral {
		_ = s.hooks.Fire(ctx, hook.Event{Name: "state.set", Scope: scope.String(), Key: key, Value: entry.Value})
	}
	return nil
}

func (s *Store) runPreHooks(entry types.StateEntry) (ok bool, value any, err error) {
	s.hookMu.RLock()
	preHooks := append([]PreHook(nil), s.preHooks...)
	s.hookMu.RUnlock()

	value = entry.Value
	for _, preHook := range preHooks {
		newValue, cont := preHook(entry)
		if !cont {
			return false, nil, nil
		}
		value = newValue
		entry.Value = newValue
	}
	return true, value, nil
}

func (s *Store) persist(ctx context.Context, entry types.StateEntry) error {
	if s.backend == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return kernelerr.Internal("marshal state entry: %v", err)
	}
	if err := s.backend.Set(ctx, types.QualifiedKey(entry.Scope, entry.Key), raw); err != nil {
		return kernelerr.Execution(err, "persist state entry %s", types.QualifiedKey(entry.Scope, entry.Key))
	}
	return nil
}

// Get reads the current value at (scope, key).
func (s *Store) Get(scope types.Scope, key string) (types.StateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[types.QualifiedKey(scope, key)]
	return entry, ok
}

// Delete removes (scope, key) from memory and, for non-Ephemeral
// classes, from the backend.
func (s *Store) Delete(ctx context.Context, scope types.Scope, key string) error {
	qk := types.QualifiedKey(scope, key)

	s.mu.Lock()
	entry, ok := s.entries[qk]
	delete(s.entries, qk)
	s.mu.Unlock()

	if !ok || entry.Class == types.ClassEphemeral || s.backend == nil {
		return nil
	}
	if err := s.backend.Delete(ctx, qk); err != nil {
		return kernelerr.Execution(err, "delete state entry %s", qk)
	}
	return nil
}

// ListScope returns every entry currently held for scope.
func (s *Store) ListScope(scope types.Scope) []types.StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := scope.String() + ":"
	var out []types.StateEntry
	for qk, entry := range s.entries {
		if len(qk) >= len(prefix) && qk[:len(prefix)] == prefix {
			out = append(out, entry)
		}
	}
	return out
}

// Load restores entries for scope from the backend, e.g. on session
// resume. It is a no-op when backend is nil.
func (s *Store) Load(ctx context.Context, scope types.Scope) error {
	if s.backend == nil {
		return nil
	}
	prefix := scope.String() + ":"
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return kernelerr.Execution(err, "list state keys for scope %s", scope)
	}
	for _, key := range keys {
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			return kernelerr.Execution(err, "load state key %s", key)
		}
		if !found {
			continue
		}
		var entry types.StateEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return kernelerr.Internal("unmarshal state entry %s: %v", key, err)
		}
		s.mu.Lock()
		s.entries[key] = entry
		s.mu.Unlock()
	}
	return nil
}
