package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"endpointagent/internal/model"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestPushPopPreservesOrderAndMultiset(t *testing.T) {
	q := openTestQueue(t)

	for _, d := range []string{"a", "b", "c"} {
		_, err := q.Push(model.Message{Type: model.MessageStateless, Data: d})
		require.NoError(t, err)
	}

	recs, err := q.PeekN(model.MessageStateless, 10, "")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.JSONEq(t, `"a"`, string(recs[0].DataBlob))
	assert.JSONEq(t, `"b"`, string(recs[1].DataBlob))
	assert.JSONEq(t, `"c"`, string(recs[2].DataBlob))

	n, err := q.PopN(model.MessageStateless, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := q.PeekN(model.MessageStateless, 10, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.JSONEq(t, `"c"`, string(remaining[0].DataBlob))
}

func TestAwaitNextNUnblocksOnPush(t *testing.T) {
	q := openTestQueue(t)

	done := make(chan []model.QueueRecord, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		recs, err := q.AwaitNextN(ctx, model.MessageStateful, 5, "")
		if err == nil {
			done <- recs
		} else {
			done <- nil
		}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := q.Push(model.Message{Type: model.MessageStateful, Data: "x"})
	require.NoError(t, err)

	select {
	case recs := <-done:
		require.NotNil(t, recs)
		assert.Len(t, recs, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitNextN did not unblock after push")
	}
}

func TestCrashRecoveryRevertsInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	require.NoError(t, err)
	_, err = q.Push(model.Message{Type: model.MessageCommand, Data: "cmd"})
	require.NoError(t, err)

	// Mark the record IN_FLIGHT in the bucket, as a process that crashed
	// mid-delivery would leave it, so reopening has something to revert.
	require.NoError(t, q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(model.MessageCommand))
		k, v := b.Cursor().First()
		var rec model.QueueRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		rec.State = model.QueueInFlight
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(append([]byte{}, k...), encoded)
	}))
	require.NoError(t, q.Close())

	// After a restart the record must be deliverable again as PENDING
	// (at-least-once).
	q2, err := Open(path)
	require.NoError(t, err)
	defer q2.Close()

	recs, err := q2.PeekN(model.MessageCommand, 10, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.QueuePending, recs[0].State)
}

func TestIsEmptyAndLen(t *testing.T) {
	q := openTestQueue(t)

	empty, err := q.IsEmpty(model.MessageStateful, "")
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = q.Push(model.Message{Type: model.MessageStateful, Data: "x", Module: "inventory"})
	require.NoError(t, err)

	n, err := q.Len(model.MessageStateful)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	empty, err = q.IsEmpty(model.MessageStateful, "other-module")
	require.NoError(t, err)
	assert.True(t, empty, "module filter must exclude non-matching records")
}

type fakeMetricsSink struct {
	pushed map[model.MessageType]int
	popped map[model.MessageType]int
}

func newFakeMetricsSink() *fakeMetricsSink {
	return &fakeMetricsSink{pushed: map[model.MessageType]int{}, popped: map[model.MessageType]int{}}
}

func (f *fakeMetricsSink) IncrPushed(t model.MessageType, n int) { f.pushed[t] += n }
func (f *fakeMetricsSink) IncrPopped(t model.MessageType, n int) { f.popped[t] += n }

func TestMetricsSinkObservesPushAndPop(t *testing.T) {
	q := openTestQueue(t)
	sink := newFakeMetricsSink()
	q.SetMetricsSink(sink)

	_, err := q.PushBatch([]model.Message{
		{Type: model.MessageStateless, Data: "a"},
		{Type: model.MessageStateless, Data: "b"},
		{Type: model.MessageStateful, Data: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sink.pushed[model.MessageStateless])
	assert.Equal(t, 1, sink.pushed[model.MessageStateful])

	n, err := q.PopN(model.MessageStateless, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, sink.popped[model.MessageStateless])
	assert.Equal(t, 0, sink.popped[model.MessageStateful])
}
