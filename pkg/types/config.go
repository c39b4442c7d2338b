package types

// Config represents the kernel's own configuration, loaded by
// internal/config from global/project JSON(C) files and environment
// overrides (see SPEC_FULL.md "Configuration").
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// Model selection, "provider/model" form (e.g. "anthropic/claude-sonnet-4").
	Model      string `json:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty"`

	// Provider and agent definitions, keyed by id/name.
	Provider map[string]ProviderConfig `json:"provider,omitempty"`
	Agent    map[string]AgentConfig    `json:"agent,omitempty"`
	MCP      map[string]MCPConfig      `json:"mcp,omitempty"`

	// Kernel runtime tunables.
	ExecutionTimeoutSecs int64 `json:"execution_timeout_secs,omitempty"`
	ToolTimeoutSecs      int64 `json:"tool_timeout_secs,omitempty"`
	TemplateTimeoutSecs  int64 `json:"template_timeout_secs,omitempty"`
	ModelPullTimeoutSecs int64 `json:"model_pull_timeout_secs,omitempty"`
	InputTimeoutSecs     int64 `json:"input_timeout_secs,omitempty"`

	MaxActiveSessions   int   `json:"max_active_sessions,omitempty"`
	PersistIntervalSecs int64 `json:"persist_interval_secs,omitempty"`
	DeleteAfterSecs     int64 `json:"delete_after_secs,omitempty"`

	MaxMemoryMB         float64 `json:"max_memory_mb,omitempty"`
	MaxCPUPercent       float64 `json:"max_cpu_percent,omitempty"`
	MaxAvgLatencyUs     int64   `json:"max_avg_latency_us,omitempty"`
	MaxErrorRatePerMin  float64 `json:"max_error_rate_per_minute,omitempty"`
}

// ProviderConfig holds configuration for a specific LLM provider.
type ProviderConfig struct {
	APIKey    string   `json:"apiKey,omitempty"`
	BaseURL   string   `json:"baseURL,omitempty"`
	Model     string   `json:"model,omitempty"`
	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`
	Disable   bool     `json:"disable,omitempty"`
}

// AgentConfig holds configuration for a registered agent type.
type AgentConfig struct {
	Model       string          `json:"model,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Tools       map[string]bool `json:"tools,omitempty"`
	Description string          `json:"description,omitempty"`
	Mode        string          `json:"mode,omitempty"` // "subagent"|"primary"|"all"
	Disable     bool            `json:"disable,omitempty"`
}

// MCPConfig holds MCP server configuration, wired through the tool
// registry so MCP-hosted tools appear alongside built-ins.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ProviderID      string  `json:"providerID"`
	ContextLength   int     `json:"contextLength"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	SupportsTools   bool    `json:"supportsTools"`
	SupportsVision  bool    `json:"supportsVision"`
	InputPrice      float64 `json:"inputPrice,omitempty"`
	OutputPrice     float64 `json:"outputPrice,omitempty"`
}
