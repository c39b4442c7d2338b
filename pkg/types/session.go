package types

// SessionStatus is the lifecycle status of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionSuspended SessionStatus = "suspended"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is a durable, resumable unit of work owned by the
// SessionManager, with artifacts, snapshots, and a lifecycle.
type Session struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Creator       string            `json:"creator"`
	Tags          []string          `json:"tags,omitempty"`
	ParentID      string            `json:"parentID,omitempty"`
	Status        SessionStatus     `json:"status"`
	CorrelationID string            `json:"correlationID"`
	ArtifactCount int64             `json:"artifactCount"`
	OperationCount int64            `json:"operationCount"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	CreatedAt     int64             `json:"createdAt"`
	UpdatedAt     int64             `json:"updatedAt"`
}

// SessionOptions configures session creation.
type SessionOptions struct {
	Name     string
	Creator  string
	Tags     []string
	ParentID string
	Metadata map[string]any
}

// SessionMetadata is a compact summary of a session. The session
// manager does not store this type: its session_metadata:{id} replay
// sidecar holds only correlation_id and updated_at.
type SessionMetadata struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        SessionStatus `json:"status"`
	CorrelationID string        `json:"correlationID"`
	UpdatedAt     int64         `json:"updatedAt"`
}

// ArtifactPermission is one grant right on an artifact (kept in sync
// with internal/acl.Permission; duplicated here to keep the storage
// model free of an internal-package dependency).
type ArtifactPermission string

const (
	ArtifactRead              ArtifactPermission = "read"
	ArtifactWrite             ArtifactPermission = "write"
	ArtifactDelete            ArtifactPermission = "delete"
	ArtifactChangePermissions ArtifactPermission = "change_permissions"
)

// Artifact is a named blob attached to a session, identified by the
// pair (SessionID, Sequence).
type Artifact struct {
	SessionID string         `json:"sessionID"`
	Sequence  int64          `json:"sequence"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Bytes     []byte         `json:"bytes"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}
