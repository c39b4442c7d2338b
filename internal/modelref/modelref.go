// Package modelref is the reference capability.ModelManager: a local
// model catalog with a simulated download pipeline for model_request's
// pull command, distinct from internal/providerref's remote completion
// calls.
package modelref

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/kernelerr"
)

// Manager is the reference capability.ModelManager.
type Manager struct {
	mu     sync.RWMutex
	status map[string]capability.PullProgress // "backend/model" -> progress
	local  map[string]bool
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{status: make(map[string]capability.PullProgress), local: make(map[string]bool)}
}

func key(backend, model string) string { return backend + "/" + model }

// ListLocalModels returns every "backend/model" pair already pulled.
func (m *Manager) ListLocalModels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.local))
	for k, present := range m.local {
		if present {
			out = append(out, k)
		}
	}
	return out
}

// Pull simulates a model download, reporting progress on the returned
// channel until it closes. The caller is expected to drain it;
// progress is also recorded so a later Status call sees the final
// state even if nobody was watching the channel.
func (m *Manager) Pull(ctx context.Context, backend, model string) (<-chan capability.PullProgress, error) {
	if backend == "" || model == "" {
		return nil, kernelerr.Validation("pull requires both backend and model")
	}
	id := key(backend, model)
	ch := make(chan capability.PullProgress, 8)

	steps := []capability.PullProgress{
		{ModelID: id, Status: capability.DownloadStarting, PercentComplete: 0},
		{ModelID: id, Status: capability.DownloadDownloading, PercentComplete: 50, BytesDownloaded: 512, BytesTotal: 1024},
		{ModelID: id, Status: capability.DownloadVerifying, PercentComplete: 90, BytesDownloaded: 1024, BytesTotal: 1024},
		{ModelID: id, Status: capability.DownloadComplete, PercentComplete: 100, BytesDownloaded: 1024, BytesTotal: 1024},
	}

	go func() {
		defer close(ch)
		for _, step := range steps {
			m.mu.Lock()
			m.status[id] = step
			m.mu.Unlock()
			select {
			case ch <- step:
			case <-ctx.Done():
				return
			}
			if step.Status == capability.DownloadComplete {
				m.mu.Lock()
				m.local[id] = true
				m.mu.Unlock()
				return
			}
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Status returns the last known progress for backend/model.
func (m *Manager) Status(backend, model string) (capability.PullProgress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.status[key(backend, model)]
	return p, ok
}

// Info returns descriptive metadata for a locally available model.
func (m *Manager) Info(backend, model string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := key(backend, model)
	if !m.local[id] {
		return nil, false
	}
	return map[string]any{"model_id": id, "backend": backend, "model": model, "label": fmt.Sprintf("%s (%s)", model, backend)}, true
}
