package modules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endpointagent/internal/model"
)

var errSetupFailed = errors.New("setup failed")

type fakeModule struct {
	name      string
	setupErr  error
	startErr  error
	stopCalls int
	stopLog   *[]string
	push      model.PushFunc
}

func (f *fakeModule) Name() string { return f.name }
func (f *fakeModule) Setup(ctx context.Context, cfg *model.ConfigSnapshot) error { return f.setupErr }
func (f *fakeModule) Start(ctx context.Context) error                           { return f.startErr }
func (f *fakeModule) Stop(ctx context.Context) error {
	f.stopCalls++
	if f.stopLog != nil {
		*f.stopLog = append(*f.stopLog, f.name)
	}
	return nil
}
func (f *fakeModule) SetPushMessageFn(fn model.PushFunc) { f.push = fn }
func (f *fakeModule) ExecuteCommand(ctx context.Context, cmd string, params map[string]interface{}) (model.CommandResult, error) {
	return model.CommandResult{Status: model.StatusSuccess}, nil
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	m := NewManager(nil)
	first := &fakeModule{name: "Inventory"}
	second := &fakeModule{name: "Inventory"}

	require.NoError(t, m.Register(first))
	err := m.Register(second)
	assert.Error(t, err)

	got, ok := m.Get("Inventory")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestSetupInjectsPushFuncAndIsolatesErrors(t *testing.T) {
	push := model.PushFunc(func(model.Message) int { return 0 })
	m := NewManager(push)

	bad := &fakeModule{name: "Bad", setupErr: errSetupFailed}
	good := &fakeModule{name: "Good"}
	require.NoError(t, m.Register(bad))
	require.NoError(t, m.Register(good))

	m.Setup(context.Background(), nil)

	assert.NotNil(t, bad.push, "push func must be injected even when Setup fails")
	assert.NotNil(t, good.push)
}

func TestStopRunsInInsertionOrder(t *testing.T) {
	m := NewManager(nil)
	var stopped []string
	a := &fakeModule{name: "a", stopLog: &stopped}
	b := &fakeModule{name: "b", stopLog: &stopped}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	m.Stop(context.Background())
	assert.Equal(t, 1, a.stopCalls)
	assert.Equal(t, 1, b.stopCalls)
	assert.Equal(t, []string{"a", "b"}, m.Names())
	assert.Equal(t, []string{"a", "b"}, stopped)
}
