// Package providerref adapts the Eino-backed LLM provider registry to
// capability.ProviderManager, the shape model_request handlers expect.
package providerref

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/provider"
)

// Manager wraps a *provider.Registry, draining each provider's
// streaming completion into one CompletionResult for model_request's
// synchronous reply shape.
type Manager struct {
	registry *provider.Registry
}

// New wraps registry as a capability.ProviderManager.
func New(registry *provider.Registry) *Manager {
	return &Manager{registry: registry}
}

func (m *Manager) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResult, error) {
	p, err := m.registry.Get(req.ProviderID)
	if err != nil {
		return capability.CompletionResult{}, fmt.Errorf("provider %q: %w", req.ProviderID, err)
	}

	messages := []*schema.Message{}
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	stream, err := p.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:    req.ModelID,
		Messages: messages,
	})
	if err != nil {
		return capability.CompletionResult{}, fmt.Errorf("completion on %s/%s: %w", req.ProviderID, req.ModelID, err)
	}
	defer stream.Close()

	var text string
	var promptTokens, completionTokens int
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		text += chunk.Content
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			promptTokens = chunk.ResponseMeta.Usage.PromptTokens
			completionTokens = chunk.ResponseMeta.Usage.CompletionTokens
		}
	}

	return capability.CompletionResult{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}

func (m *Manager) HasModel(providerID, modelID string) bool {
	_, err := m.registry.GetModel(providerID, modelID)
	return err == nil
}

func (m *Manager) ListModels() []string {
	var out []string
	for _, model := range m.registry.AllModels() {
		out = append(out, model.ProviderID+"/"+model.ID)
	}
	return out
}
