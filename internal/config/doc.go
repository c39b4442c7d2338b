// Package config loads and merges the kernel's JSON/JSONC configuration
// and provides XDG-compliant path management.
//
// # Configuration Loading
//
// Load merges configuration from, in priority order:
//
//  1. Global config (~/.config/llmkernel/kernel.json[c])
//  2. Project config (<directory>/.llmkernel/kernel.json[c])
//  3. Environment variable overrides (LLMKERNEL_MODEL, LLMKERNEL_SMALL_MODEL,
//     per-provider API key variables)
//
// Both JSON and JSONC (JSON with // and /* */ comments) are accepted.
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/llmkernel (XDG_DATA_HOME)
//   - Config: ~/.config/llmkernel (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/llmkernel (XDG_CACHE_HOME)
//   - State: ~/.local/state/llmkernel (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
package config
