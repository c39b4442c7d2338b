// Package templatereg is the reference capability.TemplateRegistry:
// an in-memory catalog of orchestration templates (code-review,
// content-generation) that template_request's list/info/search/exec/
// schema commands operate on. The templates themselves are
// applications built on top of the kernel, not kernel internals — this
// package only needs to register, describe, and run them.
package templatereg

import (
	"context"
	"strings"
	"time"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/kernelerr"
)

// RunFunc executes one template invocation.
type RunFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

type entry struct {
	info capability.TemplateInfo
	run  RunFunc
}

// Registry is the reference capability.TemplateRegistry.
type Registry struct {
	entries map[string]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a template under name.
func (r *Registry) Register(info capability.TemplateInfo, run RunFunc) {
	r.entries[info.Name] = entry{info: info, run: run}
}

// List returns every registered template's descriptor.
func (r *Registry) List() []capability.TemplateInfo {
	out := make([]capability.TemplateInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	return out
}

// Get returns the named template's descriptor.
func (r *Registry) Get(name string) (capability.TemplateInfo, bool) {
	e, ok := r.entries[name]
	return e.info, ok
}

// Search returns every template whose name or description contains
// query, case-insensitively.
func (r *Registry) Search(query string) []capability.TemplateInfo {
	query = strings.ToLower(query)
	var out []capability.TemplateInfo
	for _, e := range r.entries {
		if strings.Contains(strings.ToLower(e.info.Name), query) ||
			strings.Contains(strings.ToLower(e.info.Description), query) {
			out = append(out, e.info)
		}
	}
	return out
}

// Run invokes the named template, reporting wall-clock metrics
// alongside its result.
func (r *Registry) Run(ctx context.Context, name string, params map[string]any) (capability.TemplateRunResult, error) {
	e, ok := r.entries[name]
	if !ok {
		return capability.TemplateRunResult{}, kernelerr.NotFound("template %q not registered", name)
	}

	start := time.Now()
	result, err := e.run(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		return capability.TemplateRunResult{}, kernelerr.Execution(err, "run template %q", name).WithElapsed(elapsed)
	}
	return capability.TemplateRunResult{
		Result:  result,
		Metrics: map[string]any{"duration_ms": elapsed.Milliseconds()},
	}, nil
}

// BuiltIns returns the reference registry's default templates:
// code-review (summarizes a diff via the configured provider) and
// content-generation (drafts text from a prompt), the two templates
// spec.md names as examples of applications built on the kernel.
func BuiltIns(providers capability.ProviderManager) map[string]struct {
	Info capability.TemplateInfo
	Run  RunFunc
} {
	return map[string]struct {
		Info capability.TemplateInfo
		Run  RunFunc
	}{
		"code-review": {
			Info: capability.TemplateInfo{
				Name:        "code-review",
				Description: "Reviews a unified diff and returns findings",
				Schema: map[string]any{
					"diff": "string", "providerID": "string", "modelID": "string",
				},
			},
			Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				return runCompletion(ctx, providers, params, "Review this diff for bugs and style issues:\n\n")
			},
		},
		"content-generation": {
			Info: capability.TemplateInfo{
				Name:        "content-generation",
				Description: "Drafts content from a prompt",
				Schema: map[string]any{
					"prompt": "string", "providerID": "string", "modelID": "string",
				},
			},
			Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				return runCompletion(ctx, providers, params, "")
			},
		},
	}
}

func runCompletion(ctx context.Context, providers capability.ProviderManager, params map[string]any, prefix string) (map[string]any, error) {
	if providers == nil {
		return nil, kernelerr.Configuration("no provider manager configured")
	}
	prompt, _ := params["prompt"].(string)
	if diff, ok := params["diff"].(string); ok {
		prompt = diff
	}
	providerID, _ := params["providerID"].(string)
	modelID, _ := params["modelID"].(string)

	result, err := providers.Complete(ctx, capability.CompletionRequest{
		ProviderID: providerID, ModelID: modelID, Prompt: prefix + prompt,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": result.Text, "prompt_tokens": result.PromptTokens, "completion_tokens": result.CompletionTokens}, nil
}
