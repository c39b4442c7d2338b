// Package capability defines the narrow collaborator interfaces the
// kernel depends on. The kernel itself never imports a concrete
// script-executor, provider, storage, tool, or template implementation
// directly — only these interfaces — so reference implementations
// (internal/scriptexec, internal/providerref, internal/storage,
// internal/tool, internal/agent) can be swapped without touching the
// dispatcher.
package capability

import (
	"context"
	"time"
)

// ExecResult is the outcome of one ScriptExecutor.Execute call.
type ExecResult struct {
	// Text is the plain-text representation of the result value, if
	// any (mirrors a Jupyter execute_result's "text/plain" data entry).
	Text string
	// Stream, if non-empty, is additional stdout-like output emitted
	// during execution, reported as IOPub stream messages.
	Stream string
	// DisplayData holds MIME-typed payloads (e.g. "image/png") for
	// richer IOPub display_data messages.
	DisplayData map[string]any
	// Err is non-nil when execution raised an error. It does not abort
	// the message loop; the handler reports it as an execute_reply
	// with status="error".
	Err error
}

// ScriptExecutor runs code inline on the message-loop task. It is
// explicitly NOT required to be safe to call from any goroutine other
// than the one driving the message loop — the kernel never spawns it.
type ScriptExecutor interface {
	// Execute evaluates code and returns its result. Implementations
	// should honor ctx cancellation as a best-effort interrupt signal;
	// the kernel uses ctx deadlines to enforce execution_timeout_secs.
	Execute(ctx context.Context, code string) ExecResult
	// Interrupt requests that an in-flight Execute call stop as soon
	// as it can. Interrupt may be called from any goroutine.
	Interrupt()
	// Language reports the kernel_info language_info block.
	Language() LanguageInfo
}

// LanguageInfo mirrors kernel_info_reply's language_info content.
type LanguageInfo struct {
	Name          string
	Version       string
	Mimetype      string
	FileExtension string
}

// CompletionRequest is one ProviderManager chat completion call.
type CompletionRequest struct {
	ProviderID string
	ModelID    string
	Prompt     string
	System     string
}

// CompletionResult is a non-streaming ProviderManager response.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ProviderManager resolves and invokes LLM providers/models for
// model_request handlers.
type ProviderManager interface {
	// Complete runs one completion and returns the full result.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	// HasModel reports whether providerID/modelID is configured.
	HasModel(providerID, modelID string) bool
	// ListModels returns every "providerID/modelID" pair available.
	ListModels() []string
}

// DownloadStatus mirrors model_request's pull-command progress states.
type DownloadStatus string

const (
	DownloadStarting    DownloadStatus = "starting"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadVerifying   DownloadStatus = "verifying"
	DownloadComplete     DownloadStatus = "complete"
	DownloadFailed       DownloadStatus = "failed"
)

// PullProgress is one model_request pull-command progress snapshot.
type PullProgress struct {
	ModelID         string
	Status          DownloadStatus
	PercentComplete float64
	BytesDownloaded int64
	BytesTotal      int64
}

// ModelManager backs model_request's local-model lifecycle commands
// (list/pull/status/info), distinct from ProviderManager's remote
// completion calls.
type ModelManager interface {
	ListLocalModels() []string
	Pull(ctx context.Context, backend, model string) (<-chan PullProgress, error)
	Status(backend, model string) (PullProgress, bool)
	Info(backend, model string) (map[string]any, bool)
}

// StorageBackend is the persistence collaborator behind the state
// store and SessionManager. Ephemeral-class writes never reach it.
type StorageBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Output   string
	Metadata map[string]any
	Err      error
}

// ToolInvoker resolves and runs tools by name for tool_request
// handlers and for AgentBridge's agent-as-tool wrapping.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, params map[string]any) ToolResult
	Exists(name string) bool
	Names() []string
}

// TemplateInfo describes one registered orchestration template (e.g.
// "code-review", "content-generation") for template_request's
// list/info/search/schema commands. The templates themselves are
// applications built on top of the kernel; the kernel only needs to
// list, describe, and run them.
type TemplateInfo struct {
	Name        string
	Description string
	Schema      map[string]any
}

// TemplateRunResult is template_request's exec command outcome.
type TemplateRunResult struct {
	Result  map[string]any
	Metrics map[string]any
}

// TemplateRegistry resolves and runs orchestration templates for
// template_request handlers.
type TemplateRegistry interface {
	List() []TemplateInfo
	Get(name string) (TemplateInfo, bool)
	Search(query string) []TemplateInfo
	Run(ctx context.Context, name string, params map[string]any) (TemplateRunResult, error)
}

// DebugResult is one debug_request outcome: the DAP response to return
// as debug_reply, plus any DAP events the bridge wants broadcast on
// IOPub as debug_event (with no parent header).
type DebugResult struct {
	Response map[string]any
	Events   []map[string]any
}

// DebugBridge passes DAP-shaped requests through to an execution
// manager. Implementations decide for themselves whether the
// configured ScriptExecutor supports debugging (see DebugCapable).
type DebugBridge interface {
	Handle(ctx context.Context, command map[string]any) (DebugResult, error)
}

// DebugCapable is an optional interface a ScriptExecutor may implement
// to advertise DAP support and receive the authoritative execution
// manager. Executors that don't implement it are treated as
// non-debuggable.
type DebugCapable interface {
	SupportsDebug() bool
}

// SessionPersister is the subset of the session manager the shutdown
// path needs: a final snapshot flush of every active session before
// the kernel exits (§4.12's "save active sessions" step).
type SessionPersister interface {
	AutoPersist(ctx context.Context)
}

// HealthStatus is a HealthProbe.Check result.
type HealthStatus struct {
	Healthy        bool
	MemoryMB       float64
	CPUPercent     float64
	AvgLatency     time.Duration
	ErrorRatePerMin float64
	ChannelHealth  map[string]bool
	Issues         []string
}

// HealthProbe supplies host resource metrics to the kernel's health checks.
// The kernel's own health monitor (internal/kernel) tracks channel
// activity and latency directly; HealthProbe lets a host process
// report its own resource usage (memory/cpu) into the same response.
type HealthProbe interface {
	Check(ctx context.Context, full bool) HealthStatus
}
