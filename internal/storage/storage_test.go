package storage

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_SetAndGet(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "items:item1", []byte("hello")))

	data, ok, err := s.Get(ctx, "items:item1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestStorage_GetNotFound(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "nonexistent:item")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_Delete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "items:toDelete", []byte("x")))
	require.NoError(t, s.Delete(ctx, "items:toDelete"))

	_, ok, err := s.Get(ctx, "items:toDelete")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_DeleteNonexistent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	assert.NoError(t, s.Delete(ctx, "nonexistent:item"))
}

func TestStorage_List(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "items:a", []byte("1")))
	require.NoError(t, s.Set(ctx, "items:b", []byte("2")))
	require.NoError(t, s.Set(ctx, "items:c", []byte("3")))
	require.NoError(t, s.Set(ctx, "other:d", []byte("4")))

	items, err := s.List(ctx, "items")
	require.NoError(t, err)
	sort.Strings(items)
	assert.Equal(t, []string{"items:a", "items:b", "items:c"}, items)
}

func TestStorage_ListEmpty(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	items, err := s.List(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStorage_Exists(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	assert.False(t, s.Exists(ctx, "items:test"))
	require.NoError(t, s.Set(ctx, "items:test", []byte("1")))
	assert.True(t, s.Exists(ctx, "items:test"))
}

func TestStorage_ConcurrentAccess(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, "items:concurrent", []byte{byte(val)}))
		}(i)
	}
	wg.Wait()

	_, ok, err := s.Get(ctx, "items:concurrent")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "items:atomic", []byte("initial")))

	file := s.keyToFile("items:atomic")
	_, err := os.Stat(file + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not exist after successful write")
}

func TestStorage_CompressDecompressRoundTrip(t *testing.T) {
	original := []byte("a fairly repetitive payload a fairly repetitive payload")
	compressed, err := Compress(original)
	require.NoError(t, err)

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}
