package agent

import (
	"fmt"
	"sync"
)

// TemplateRegistry manages agent template configurations, discovered
// by AgentBridge when a client lists available agent types.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateRegistry creates a new registry seeded with built-ins.
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[string]*Template)}
	for name, tpl := range BuiltInTemplates() {
		r.templates[name] = tpl
	}
	return r
}

// Get retrieves a template by name.
func (r *TemplateRegistry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("agent template not found: %s", name)
	}
	return tpl, nil
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(tpl *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.Name] = tpl
}

// Unregister removes a template by name.
func (r *TemplateRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.templates, name)
}

// List returns all registered templates.
func (r *TemplateRegistry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		out = append(out, tpl)
	}
	return out
}

// ListPrimary returns templates usable as a primary agent.
func (r *TemplateRegistry) ListPrimary() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Template
	for _, tpl := range r.templates {
		if tpl.IsPrimary() {
			out = append(out, tpl)
		}
	}
	return out
}

// ListSubagents returns templates usable as a subagent.
func (r *TemplateRegistry) ListSubagents() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Template
	for _, tpl := range r.templates {
		if tpl.IsSubagent() {
			out = append(out, tpl)
		}
	}
	return out
}

// Names returns all template names.
func (r *TemplateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	return out
}

// Exists checks if a template exists.
func (r *TemplateRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// Count returns the number of registered templates.
func (r *TemplateRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// LoadFromConfig applies user configuration on top of the registry,
// cloning built-ins before mutating them so defaults stay intact.
func (r *TemplateRegistry) LoadFromConfig(config map[string]TemplateConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, cfg := range config {
		tpl, exists := r.templates[name]
		if !exists {
			tpl = &Template{Name: name, Mode: ModePrimary, Tools: make(map[string]bool)}
		} else {
			tpl = tpl.Clone()
			tpl.BuiltIn = false
		}

		if cfg.Description != "" {
			tpl.Description = cfg.Description
		}
		if cfg.Mode != "" {
			tpl.Mode = cfg.Mode
		}
		if cfg.Model != nil {
			tpl.Model = cfg.Model
		}
		if cfg.Prompt != "" {
			tpl.Prompt = cfg.Prompt
		}
		if cfg.Temperature > 0 {
			tpl.Temperature = cfg.Temperature
		}
		if cfg.TopP > 0 {
			tpl.TopP = cfg.TopP
		}
		if cfg.Tools != nil {
			if tpl.Tools == nil {
				tpl.Tools = make(map[string]bool)
			}
			for k, v := range cfg.Tools {
				tpl.Tools[k] = v
			}
		}
		if cfg.Options != nil {
			if tpl.Options == nil {
				tpl.Options = make(map[string]any)
			}
			for k, v := range cfg.Options {
				tpl.Options[k] = v
			}
		}
		if cfg.Delegates != nil {
			tpl.Delegates = cfg.Delegates
		}

		r.templates[name] = tpl
	}
}

// TemplateConfig represents user configuration overriding an agent template.
type TemplateConfig struct {
	Description string          `json:"description,omitempty"`
	Mode        Mode            `json:"mode,omitempty"`
	Model       *ModelRef       `json:"model,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"topP,omitempty"`
	Tools       map[string]bool `json:"tools,omitempty"`
	Options     map[string]any  `json:"options,omitempty"`
	Delegates   []string        `json:"delegates,omitempty"`
}
