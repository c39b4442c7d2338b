package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmkernel/kernel/internal/hook"
	"github.com/llmkernel/kernel/pkg/types"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func TestStore_EphemeralNeverPersists(t *testing.T) {
	backend := newMemBackend()
	store := NewStore(backend)

	require.NoError(t, store.Set(context.Background(), types.Global, "cache:anything", "v", ""))
	assert.Equal(t, 0, backend.sets)

	entry, ok := store.Get(types.Global, "cache:anything")
	require.True(t, ok)
	assert.Equal(t, types.ClassEphemeral, entry.Class)
}

func TestStore_StandardAndTrustedPersist(t *testing.T) {
	backend := newMemBackend()
	store := NewStore(backend)

	require.NoError(t, store.Set(context.Background(), types.SessionScope("s1"), "normal", 1, ""))
	assert.Equal(t, 1, backend.sets)

	require.NoError(t, store.Set(context.Background(), types.Global, "benchmark:run1", 2, ""))
	assert.Equal(t, 2, backend.sets)
}

func TestStore_InferClassFromPrefix(t *testing.T) {
	assert.Equal(t, types.ClassTrusted, types.InferClass("benchmark:x"))
	assert.Equal(t, types.ClassTrusted, types.InferClass("test:x"))
	assert.Equal(t, types.ClassEphemeral, types.InferClass("cache:x"))
	assert.Equal(t, types.ClassEphemeral, types.InferClass("temp:x"))
	assert.Equal(t, types.ClassStandard, types.InferClass("anything-else"))
}

func TestStore_PreHookCanCancelSensitiveWrite(t *testing.T) {
	backend := newMemBackend()
	store := NewStore(backend)
	store.AddPreHook(func(entry types.StateEntry) (any, bool) { return nil, false })

	err := store.Set(context.Background(), types.Global, "secret", "v", types.ClassSensitive)
	require.Error(t, err)
	assert.Equal(t, 0, backend.sets)

	_, ok := store.Get(types.Global, "secret")
	assert.False(t, ok)
}

func TestStore_PreHookCanRewriteValue(t *testing.T) {
	store := NewStore(nil)
	store.AddPreHook(func(entry types.StateEntry) (any, bool) { return "redacted", true })

	require.NoError(t, store.Set(context.Background(), types.Global, "secret", "plaintext", types.ClassSensitive))

	entry, ok := store.Get(types.Global, "secret")
	require.True(t, ok)
	assert.Equal(t, "redacted", entry.Value)
}

func TestStore_DeleteAndListScope(t *testing.T) {
	backend := newMemBackend()
	store := NewStore(backend)

	require.NoError(t, store.Set(context.Background(), types.SessionScope("s1"), "a", 1, ""))
	require.NoError(t, store.Set(context.Background(), types.SessionScope("s1"), "b", 2, ""))
	require.NoError(t, store.Set(context.Background(), types.SessionScope("s2"), "c", 3, ""))

	assert.Len(t, store.ListScope(types.SessionScope("s1")), 2)

	require.NoError(t, store.Delete(context.Background(), types.SessionScope("s1"), "a"))
	assert.Len(t, store.ListScope(types.SessionScope("s1")), 1)
}

func TestStore_EphemeralNeverFiresHooks(t *testing.T) {
	engine := hook.NewEngine()
	defer engine.Close()
	store := NewStore(newMemBackend()).WithHooks(engine)

	fired := make(chan hook.Event, 4)
	engine.Register("observer", func(ctx context.Context, evt hook.Event) { fired <- evt }, hook.PolicyDrop, 4)

	require.NoError(t, store.Set(context.Background(), types.Global, "cache:x", "v", ""))
	select {
	case <-fired:
		t.Fatal("ephemeral write should not fire hooks")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, store.Set(context.Background(), types.Global, "normal", "v", ""))
	select {
	case evt := <-fired:
		assert.Equal(t, "normal", evt.Key)
	case <-time.After(time.Second):
		t.Fatal("standard write should fire hooks")
	}
}

func TestStore_LoadRestoresFromBackend(t *testing.T) {
	backend := newMemBackend()
	producer := NewStore(backend)
	require.NoError(t, producer.Set(context.Background(), types.SessionScope("s1"), "k", "v", ""))

	consumer := NewStore(backend)
	require.NoError(t, consumer.Load(context.Background(), types.SessionScope("s1")))

	entry, ok := consumer.Get(types.SessionScope("s1"), "k")
	require.True(t, ok)
	assert.Equal(t, "v", entry.Value)
}
