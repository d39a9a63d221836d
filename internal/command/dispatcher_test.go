package command

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endpointagent/internal/model"
	"endpointagent/internal/queue"
)

type fakeTarget struct {
	result model.CommandResult
	err    error
	delay  time.Duration
}

func (f *fakeTarget) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) (model.CommandResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.CommandResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestDispatchUnknownModuleFails(t *testing.T) {
	d := NewDispatcher(func(string) (Target, bool) { return nil, false }, nil, time.Second)
	res := d.Dispatch(context.Background(), model.CommandEntry{Module: "Nope", Command: "x"})
	assert.Equal(t, model.StatusFailure, res.Status)
}

func TestDispatchRoutesToCentralizedConfig(t *testing.T) {
	cfg := &fakeTarget{result: model.CommandResult{Status: model.StatusSuccess}}
	d := NewDispatcher(nil, cfg, time.Second)
	res := d.Dispatch(context.Background(), model.CommandEntry{Module: model.CentralizedConfigModule, Command: "set-group"})
	assert.Equal(t, model.StatusSuccess, res.Status)
}

func TestDispatchTimesOut(t *testing.T) {
	slow := &fakeTarget{delay: 50 * time.Millisecond, result: model.CommandResult{Status: model.StatusSuccess}}
	d := NewDispatcher(func(string) (Target, bool) { return slow, true }, nil, 5*time.Millisecond)
	res := d.Dispatch(context.Background(), model.CommandEntry{Module: "Slow", Command: "x"})
	assert.Equal(t, model.StatusTimeout, res.Status)
}

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestProcessorDrainsCommandAndPushesResult(t *testing.T) {
	q := openTestQueue(t)
	target := &fakeTarget{result: model.CommandResult{Status: model.StatusSuccess, Message: "ok"}}
	d := NewDispatcher(func(string) (Target, bool) { return target, true }, nil, time.Second)
	p := NewProcessor(q, d)

	entry := model.CommandEntry{ID: "c1", Module: "Inventory", Command: "collect"}
	_, err := q.Push(model.Message{Type: model.MessageCommand, Data: entry})
	require.NoError(t, err)

	recs, err := q.PeekN(model.MessageCommand, 1, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	p.process(context.Background(), recs[0])

	remaining, err := q.PeekN(model.MessageCommand, 1, "")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	results, err := q.PeekN(model.MessageCommandResult, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
}
