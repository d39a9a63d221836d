package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endpointagent/internal/config"
	"endpointagent/internal/model"
)

func TestSetGroupPersistsFetchesAndReloads(t *testing.T) {
	store, err := config.NewStoreFromYAML("agent:\n  max_batching_size: 10\n")
	require.NoError(t, err)

	identity := model.NewAgentIdentity("u", "k", nil)
	var persisted []string
	var fetched []string

	cc := NewCentralizedConfig(identity, store,
		func(group string) error { fetched = append(fetched, group); return nil },
		func(groups []string) error { persisted = append([]string{}, groups...); return nil },
	)

	res, err := cc.ExecuteCommand(context.Background(), "set-group", map[string]interface{}{
		"groups": []interface{}{"default", "linux"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, []string{"default", "linux"}, identity.Groups())
	assert.Equal(t, []string{"default", "linux"}, persisted)
	assert.ElementsMatch(t, []string{"default", "linux"}, fetched)
}

func TestSetGroupOnlyFetchesNewGroups(t *testing.T) {
	store, err := config.NewStoreFromYAML("")
	require.NoError(t, err)
	identity := model.NewAgentIdentity("u", "k", []string{"default"})
	var fetched []string

	cc := NewCentralizedConfig(identity, store,
		func(group string) error { fetched = append(fetched, group); return nil },
		nil,
	)

	_, err = cc.ExecuteCommand(context.Background(), "set-group", map[string]interface{}{
		"groups": []interface{}{"default", "linux"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"linux"}, fetched)
}

func TestUpdateGroupRefetchesAllWithoutChangingGroups(t *testing.T) {
	store, err := config.NewStoreFromYAML("")
	require.NoError(t, err)
	identity := model.NewAgentIdentity("u", "k", []string{"default", "linux"})
	var fetched []string

	cc := NewCentralizedConfig(identity, store,
		func(group string) error { fetched = append(fetched, group); return nil },
		nil,
	)

	res, err := cc.ExecuteCommand(context.Background(), "update-group", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, []string{"default", "linux"}, identity.Groups())
	assert.ElementsMatch(t, []string{"default", "linux"}, fetched)
}

// TestSetGroupOnRealStoreFetchesBeforeReload exercises the wiring
// Agent.New actually uses (config.NewStore with a real fetchFn reading
// from disk), rather than NewStoreFromYAML's nil groupsFn/fetchFn, so a
// reload triggered before the overlay file exists would surface here.
func TestSetGroupOnRealStoreFetchesBeforeReload(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte("agent:\n  name: endpoint-agent\n"), 0o644))

	identity := model.NewAgentIdentity("u", "k", nil)
	store, err := config.NewStore(basePath, identity.Groups, config.DefaultSharedOverlayFetcher(dir))
	require.NoError(t, err)

	cc := NewCentralizedConfig(identity, store,
		func(group string) error {
			path := filepath.Join(dir, group+".conf")
			return os.WriteFile(path, []byte("agent:\n  linux_flag: true\n"), 0o644)
		},
		nil,
	)

	res, err := cc.ExecuteCommand(context.Background(), "set-group", map[string]interface{}{
		"groups": []interface{}{"linux"},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, res.Status, res.Message)

	val, ok := store.Snapshot().GetBool("agent", "linux_flag")
	require.True(t, ok)
	assert.True(t, val)
}

func TestSetGroupRejectsMalformedParams(t *testing.T) {
	store, err := config.NewStoreFromYAML("")
	require.NoError(t, err)
	identity := model.NewAgentIdentity("u", "k", nil)
	cc := NewCentralizedConfig(identity, store, nil, nil)

	res, err := cc.ExecuteCommand(context.Background(), "set-group", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailure, res.Status)
}
