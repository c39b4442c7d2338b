package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemplateRegistry(t *testing.T) {
	r := NewTemplateRegistry()

	assert.True(t, r.Exists("basic"))
	assert.True(t, r.Exists("planner"))
	assert.True(t, r.Exists("explorer"))
	assert.Equal(t, 3, r.Count())
}

func TestTemplateRegistry_Get(t *testing.T) {
	r := NewTemplateRegistry()

	tpl, err := r.Get("basic")
	require.NoError(t, err)
	assert.Equal(t, "basic", tpl.Name)

	_, err = r.Get("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "agent template not found")
}

func TestTemplateRegistry_Register(t *testing.T) {
	r := NewTemplateRegistry()

	r.Register(&Template{Name: "custom", Description: "Custom agent", Mode: ModeSubagent})

	tpl, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "Custom agent", tpl.Description)
	assert.Equal(t, 4, r.Count())
}

func TestTemplateRegistry_Unregister(t *testing.T) {
	r := NewTemplateRegistry()

	r.Register(&Template{Name: "temp"})
	assert.True(t, r.Exists("temp"))

	r.Unregister("temp")
	assert.False(t, r.Exists("temp"))
}

func TestTemplateRegistry_ListPrimaryAndSubagents(t *testing.T) {
	r := NewTemplateRegistry()

	for _, tpl := range r.ListPrimary() {
		assert.True(t, tpl.IsPrimary())
	}
	for _, tpl := range r.ListSubagents() {
		assert.True(t, tpl.IsSubagent())
	}
}

func TestTemplateRegistry_LoadFromConfig(t *testing.T) {
	r := NewTemplateRegistry()

	r.LoadFromConfig(map[string]TemplateConfig{
		"basic": {
			Temperature: 0.5,
			Model:       &ModelRef{ProviderID: "openai", ModelID: "gpt-4"},
		},
		"custom-agent": {
			Description: "My custom agent",
			Mode:        ModeSubagent,
			Tools:       map[string]bool{"read": true, "edit": false},
		},
	})

	basic, err := r.Get("basic")
	require.NoError(t, err)
	assert.Equal(t, 0.5, basic.Temperature)
	require.NotNil(t, basic.Model)
	assert.Equal(t, "gpt-4", basic.Model.ModelID)
	assert.False(t, basic.BuiltIn)

	custom, err := r.Get("custom-agent")
	require.NoError(t, err)
	assert.Equal(t, ModeSubagent, custom.Mode)
	assert.True(t, custom.Tools["read"])
	assert.False(t, custom.Tools["edit"])
}

func TestTemplateRegistry_Concurrency(t *testing.T) {
	r := NewTemplateRegistry()
	done := make(chan bool, 100)

	for i := 0; i < 50; i++ {
		go func() {
			_, _ = r.Get("basic")
			r.List()
			r.Names()
			r.Count()
			done <- true
		}()
	}
	for i := 0; i < 50; i++ {
		go func() {
			r.Register(&Template{Name: "concurrent"})
			r.Unregister("concurrent")
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}
