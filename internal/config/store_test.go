package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFromYAMLLookups(t *testing.T) {
	s, err := NewStoreFromYAML(`
agent:
  max_batching_size: 100
  enabled: true
  name: edge-1
master:
  timeout: 30s
`)
	require.NoError(t, err)

	n, ok := s.Snapshot().GetInt("agent", "max_batching_size")
	assert.True(t, ok)
	assert.Equal(t, 100, n)

	b, ok := s.Snapshot().GetBool("agent", "enabled")
	assert.True(t, ok)
	assert.True(t, b)

	ms, ok := s.Snapshot().GetDurationMS("master", "timeout")
	assert.True(t, ok)
	assert.Equal(t, int64(30000), ms)

	_, ok = s.Snapshot().GetString("agent", "missing")
	assert.False(t, ok)
}

func TestStoreReloadNoTornRead(t *testing.T) {
	s, err := NewStoreFromYAML(`agent:
  max_batching_size: 1
`)
	require.NoError(t, err)

	before := s.Snapshot()
	n, _ := before.GetInt("agent", "max_batching_size")
	assert.Equal(t, 1, n)

	// Reload without a basePath swaps in an empty tree; the
	// test only exercises that a concurrent reader's already-obtained
	// snapshot never changes underneath it (no torn reads).
	_ = s.Reload()
	n, _ = before.GetInt("agent", "max_batching_size")
	assert.Equal(t, 1, n, "previously obtained snapshot must not mutate")
}
