package identitystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent_info.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadOnFreshStoreReportsNotOK(t *testing.T) {
	s := openTestStore(t)
	identity, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, identity)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveCredentials("agent-uuid", "enrol-key"))
	require.NoError(t, s.SaveGroups([]string{"default", "linux", "edge"}))

	identity, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-uuid", identity.UUID)
	assert.Equal(t, "enrol-key", identity.Key)
	assert.Equal(t, []string{"default", "linux", "edge"}, identity.Groups())
}

func TestSaveGroupsReplacesPreviousOrder(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveCredentials("u", "k"))

	require.NoError(t, s.SaveGroups([]string{"a", "b", "c"}))
	require.NoError(t, s.SaveGroups([]string{"z", "y"}))

	identity, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"z", "y"}, identity.Groups())
}

func TestReopenPersistsAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent_info.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.SaveCredentials("agent-uuid", "enrol-key"))
	require.NoError(t, s1.SaveGroups([]string{"default"}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	identity, ok, err := s2.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-uuid", identity.UUID)
	assert.Equal(t, []string{"default"}, identity.Groups())
}
