package invopipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuilderRegisterAndBuild(t *testing.T) {
	registry := NewRegistryBuilder().
		Register("alpha", okStage()).
		Register("beta", okStage()).
		Build()

	assert.True(t, registry.Has("alpha"))
	assert.True(t, registry.Has("beta"))
	assert.False(t, registry.Has("gamma"))
	assert.Equal(t, []string{"alpha", "beta"}, registry.Names())
}

func TestRegistryBuilderPanicsOnDuplicate(t *testing.T) {
	b := NewRegistryBuilder().Register("alpha", okStage())

	assert.Panics(t, func() {
		b.Register("alpha", okStage())
	})
}

func TestRegistryBuilderPanicsOnEmptyName(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistryBuilder().Register("", okStage())
	})
}

func TestRegistryBuilderPanicsOnNilFunc(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistryBuilder().Register("alpha", nil)
	})
}

func TestRegistryIsImmutableAfterBuild(t *testing.T) {
	b := NewRegistryBuilder().Register("alpha", okStage())
	registry := b.Build()

	b.Register("beta", okStage())

	assert.False(t, registry.Has("beta"))
}

func TestStageTimeoutOption(t *testing.T) {
	registry := NewRegistryBuilder().
		Register("slow", okStage(), WithStageTimeout(5*time.Second)).
		Register("fast", okStage()).
		Build()

	entry, ok := registry.lookup("slow")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, entry.timeout)

	entry, ok = registry.lookup("fast")
	require.True(t, ok)
	assert.Zero(t, entry.timeout)
}
