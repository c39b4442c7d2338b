// Package session implements the SessionManager: a bounded, in-memory
// table of durable, resumable units of work, each with an append-only
// artifact list and ACL, snapshotted to the storage backend. It keeps
// the teacher's session package's ULID id generation and event-bus
// publication idiom, rebuilt around the kernel's session lifecycle
// instead of a chat/agent-loop history.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/llmkernel/kernel/internal/acl"
	"github.com/llmkernel/kernel/internal/event"
	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/storage"
)

// Status is a Session's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Artifact is one named blob attached to a session.
type Artifact struct {
	SessionID string         `json:"session_id"`
	Sequence  int64          `json:"sequence"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Bytes     []byte         `json:"bytes"`
	Metadata  map[string]any `json:"metadata"`
}

// Session is a durable, resumable unit of work. Status and artifact
// list mutations all go through the Manager holding it; a Session
// value read without the Manager's lock is a point-in-time copy.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Creator       string    `json:"creator"`
	Tags          []string  `json:"tags"`
	ParentID      string    `json:"parent_id,omitempty"`
	Status        Status    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	OperationCount int64      `json:"operation_count"`
	Artifacts      []Artifact `json:"artifacts"`
}

// ArtifactCount is the invariant-backing count: equal to len(Artifacts).
func (s *Session) ArtifactCount() int { return len(s.Artifacts) }

// Options configures CreateSession.
type Options struct {
	Name     string
	Creator  string
	ParentID string
	Tags     []string
}

type metadataSidecar struct {
	CorrelationID string    `json:"correlation_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Manager is the SessionManager: it owns every active Session, enforces
// the bounded active-session limit, persists snapshots through a
// storage.Storage, and authorizes artifact access through an
// acl.Checker.
type Manager struct {
	storage *storage.Storage
	acl     *acl.Checker

	maxActive       int
	persistInterval time.Duration
	deleteAfter     time.Duration
	compress        bool

	mu     sync.Mutex
	active map[string]*Session

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a Manager's limits and background-task cadence. A
// zero PersistInterval/DeleteAfter disables the corresponding
// background task.
type Config struct {
	MaxActiveSessions int
	PersistInterval   time.Duration
	DeleteAfter       time.Duration
	Compress          bool
}

// NewManager creates a Manager backed by store and aclChecker.
func NewManager(store *storage.Storage, aclChecker *acl.Checker, cfg Config) *Manager {
	if cfg.MaxActiveSessions <= 0 {
		cfg.MaxActiveSessions = 256
	}
	return &Manager{
		storage:         store,
		acl:             aclChecker,
		maxActive:       cfg.MaxActiveSessions,
		persistInterval: cfg.PersistInterval,
		deleteAfter:     cfg.DeleteAfter,
		compress:        cfg.Compress,
		active:          make(map[string]*Session),
		stopCh:          make(chan struct{}),
	}
}

func generateID() string { return ulid.Make().String() }

// CreateSession inserts a new active Session, publishing a Created
// event followed by a causally-linked Started event, both carrying the
// session's correlation id.
func (m *Manager) CreateSession(ctx context.Context, opts Options) (*Session, error) {
	m.mu.Lock()
	if len(m.active) >= m.maxActive {
		m.mu.Unlock()
		return nil, kernelerr.Execution(nil, "ResourceLimitExceeded: max_active_sessions=%d reached", m.maxActive)
	}
	now := time.Now()
	s := &Session{
		ID:            generateID(),
		Name:          opts.Name,
		Creator:       opts.Creator,
		Tags:          opts.Tags,
		ParentID:      opts.ParentID,
		Status:        StatusActive,
		CorrelationID: generateID(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.active[s.ID] = s
	m.mu.Unlock()

	event.Publish(event.Event{Type: event.SessionCreated, Data: map[string]any{
		"session_id": s.ID, "correlation_id": s.CorrelationID,
	}})
	event.Publish(event.Event{Type: event.SessionStarted, Data: map[string]any{
		"session_id": s.ID, "correlation_id": s.CorrelationID, "causation_id": s.CorrelationID,
	}})
	return s, nil
}

// Get returns the active session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[id]
	if !ok {
		return nil, kernelerr.NotFound("session %q not found", id)
	}
	return s, nil
}

// Suspend transitions an active session to Suspended.
func (m *Manager) Suspend(id string) error {
	return m.transition(id, StatusActive, StatusSuspended, event.SessionSuspended)
}

// Resume transitions a suspended session back to Active.
func (m *Manager) Resume(id string) error {
	return m.transition(id, StatusSuspended, StatusActive, event.SessionResumed)
}

func (m *Manager) transition(id string, from, to Status, evt event.EventType) error {
	m.mu.Lock()
	s, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return kernelerr.NotFound("session %q not found", id)
	}
	if s.Status != from {
		m.mu.Unlock()
		return kernelerr.Validation("session %q is %s, not %s", id, s.Status, from)
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	m.mu.Unlock()

	event.Publish(event.Event{Type: evt, Data: map[string]any{"session_id": id}})
	return nil
}

// Complete persists a final snapshot and evicts id from the active map.
func (m *Manager) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return kernelerr.NotFound("session %q not found", id)
	}
	s.Status = StatusCompleted
	s.UpdatedAt = time.Now()
	snapshot := *s
	delete(m.active, id)
	m.mu.Unlock()

	if err := m.persist(ctx, &snapshot); err != nil {
		return err
	}
	event.Publish(event.Event{Type: event.SessionCompleted, Data: map[string]any{"session_id": id}})
	return nil
}

// persist serializes s, optionally compresses it, and writes it to
// session:{id} plus the session_metadata:{id} replay sidecar.
func (m *Manager) persist(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return kernelerr.Internal("marshal session %q snapshot: %v", s.ID, err)
	}
	if m.compress {
		raw, err = storage.Compress(raw)
		if err != nil {
			return kernelerr.Internal("compress session %q snapshot: %v", s.ID, err)
		}
	}
	if err := m.storage.Set(ctx, "session:"+s.ID, raw); err != nil {
		return kernelerr.Execution(err, "persist session %q", s.ID)
	}

	meta, err := json.Marshal(metadataSidecar{CorrelationID: s.CorrelationID, UpdatedAt: s.UpdatedAt})
	if err != nil {
		return kernelerr.Internal("marshal session %q metadata: %v", s.ID, err)
	}
	if err := m.storage.Set(ctx, "session_metadata:"+s.ID, meta); err != nil {
		return kernelerr.Execution(err, "persist session %q metadata", s.ID)
	}
	return nil
}

// AutoPersist snapshots every active session without evicting it, for
// the persist_interval_secs background task.
func (m *Manager) AutoPersist(ctx context.Context) {
	m.mu.Lock()
	snapshots := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		cp := *s
		snapshots = append(snapshots, &cp)
	}
	m.mu.Unlock()

	for _, s := range snapshots {
		_ = m.persist(ctx, s)
	}
}

// StoreArtifact appends a new artifact to an active session, requiring
// it to be active, and returns its sequence number.
func (m *Manager) StoreArtifact(ctx context.Context, sessionID, artifactType, name string, data []byte, metadata map[string]any) (int64, error) {
	m.mu.Lock()
	s, ok := m.active[sessionID]
	if !ok {
		m.mu.Unlock()
		return 0, kernelerr.NotFound("session %q not found", sessionID)
	}
	if s.Status != StatusActive {
		m.mu.Unlock()
		return 0, kernelerr.Validation("session %q is not active (status=%s)", sessionID, s.Status)
	}
	seq := int64(len(s.Artifacts))
	s.Artifacts = append(s.Artifacts, Artifact{
		SessionID: sessionID, Sequence: seq, Type: artifactType, Name: name, Bytes: data, Metadata: metadata,
	})
	s.OperationCount++
	s.UpdatedAt = time.Now()
	m.mu.Unlock()

	raw, err := json.Marshal(metadata)
	if err != nil {
		raw = nil
	}
	key := fmt.Sprintf("artifact:%s:%d", sessionID, seq)
	if err := m.storage.Set(ctx, key, data); err != nil {
		return 0, kernelerr.Execution(err, "store artifact %s", key)
	}
	if len(raw) > 0 {
		_ = m.storage.Set(ctx, key+":metadata", raw)
	}
	return seq, nil
}

// GetArtifact enforces an ACL read check via acl.Checker before
// returning an artifact's bytes and metadata.
func (m *Manager) GetArtifact(ctx context.Context, sessionID string, sequence int64, principal string) (Artifact, error) {
	m.mu.Lock()
	s, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return Artifact{}, kernelerr.NotFound("session %q not found", sessionID)
	}
	if err := m.acl.Check(ctx, sessionID, acl.Request{
		ArtifactSessionID: sessionID, Sequence: sequence, Principal: principal, Permission: acl.PermRead,
	}); err != nil {
		return Artifact{}, kernelerr.Validation("%v", err)
	}
	for _, a := range s.Artifacts {
		if a.Sequence == sequence {
			return a, nil
		}
	}
	return Artifact{}, kernelerr.NotFound("artifact %s/%d not found", sessionID, sequence)
}

// ListArtifacts returns every artifact in sessionID the principal is
// authorized to read.
func (m *Manager) ListArtifacts(ctx context.Context, sessionID, principal string) ([]Artifact, error) {
	m.mu.Lock()
	s, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, kernelerr.NotFound("session %q not found", sessionID)
	}
	var out []Artifact
	for _, a := range s.Artifacts {
		if err := m.acl.Check(ctx, sessionID, acl.Request{
			ArtifactSessionID: sessionID, Sequence: a.Sequence, Principal: principal, Permission: acl.PermRead,
		}); err == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteArtifact enforces an ACL delete check, then removes the
// artifact's bytes from storage and marks it tombstoned in-memory.
func (m *Manager) DeleteArtifact(ctx context.Context, sessionID string, sequence int64, principal string) error {
	if err := m.acl.Check(ctx, sessionID, acl.Request{
		ArtifactSessionID: sessionID, Sequence: sequence, Principal: principal, Permission: acl.PermDelete,
	}); err != nil {
		return kernelerr.Validation("%v", err)
	}
	key := fmt.Sprintf("artifact:%s:%d", sessionID, sequence)
	if err := m.storage.Delete(ctx, key); err != nil {
		return kernelerr.Execution(err, "delete artifact %s", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[sessionID]
	if !ok {
		return kernelerr.NotFound("session %q not found", sessionID)
	}
	for i := range s.Artifacts {
		if s.Artifacts[i].Sequence == sequence {
			s.Artifacts[i].Bytes = nil
			s.Artifacts[i].Metadata = map[string]any{"deleted": true}
		}
	}
	return nil
}

// GrantAccess records an ACL grant letting principal access sessionID's
// artifacts, for the explicit cross-session grant §4.11 requires.
func (m *Manager) GrantAccess(sessionID string, sequence int64, g acl.Grant) {
	m.acl.Grant(sessionID, sequence, g)
}

// ReplayCandidate is one entry in ListReplayCandidates's result.
type ReplayCandidate struct {
	SessionID     string
	CorrelationID string
	UpdatedAt     time.Time
}

// ListReplayCandidates lists every persisted session_metadata:{id} key,
// sorted by updated_at descending, and returns the newest n.
func (m *Manager) ListReplayCandidates(ctx context.Context, n int) ([]ReplayCandidate, error) {
	keys, err := m.storage.List(ctx, "session_metadata:")
	if err != nil {
		return nil, kernelerr.Execution(err, "list session_metadata keys")
	}

	candidates := make([]ReplayCandidate, 0, len(keys))
	for _, key := range keys {
		raw, found, err := m.storage.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var meta metadataSidecar
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		id := key[len("session_metadata:"):]
		candidates = append(candidates, ReplayCandidate{SessionID: id, CorrelationID: meta.CorrelationID, UpdatedAt: meta.UpdatedAt})
	}

	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].UpdatedAt.After(candidates[j-1].UpdatedAt); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if n > 0 && n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// StartBackgroundTasks launches the auto-persist and terminal-session
// cleanup loops, if their respective intervals are non-zero. Stop
// cancels them.
func (m *Manager) StartBackgroundTasks(ctx context.Context) {
	if m.persistInterval > 0 {
		m.wg.Add(1)
		go m.runEvery(ctx, m.persistInterval, m.AutoPersist)
	}
	if m.deleteAfter > 0 {
		m.wg.Add(1)
		go m.runEvery(ctx, m.deleteAfter/4, m.cleanupTerminal)
	}
}

func (m *Manager) runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) cleanupTerminal(ctx context.Context) {
	cutoff := time.Now().Add(-m.deleteAfter)
	m.mu.Lock()
	var toComplete []string
	for id, s := range m.active {
		isTerminal := s.Status == StatusCompleted || s.Status == StatusFailed
		if isTerminal && s.UpdatedAt.Before(cutoff) {
			toComplete = append(toComplete, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toComplete {
		_ = m.Complete(ctx, id)
	}
}

// Stop halts background tasks and waits for them to exit.
func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}
