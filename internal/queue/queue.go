// Package queue implements the agent's durable, multi-type FIFO on top of
// bbolt: one bucket per model.MessageType, keyed by a monotone per-type
// sequence number so a bucket cursor yields strict FIFO order.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"endpointagent/internal/apperr"
	"endpointagent/internal/model"
)

var allTypes = []model.MessageType{
	model.MessageStateful,
	model.MessageStateless,
	model.MessageCommand,
	model.MessageCommandResult,
}

// Queue is C3: a durable, per-type FIFO backed by a single bbolt file.
// Within a (type, module) pair, delivery order matches push order;
// across modules within a type, ordering is insertion order; across
// types there is no ordering guarantee.
type Queue struct {
	db *bolt.DB

	mu    sync.Mutex // guards the per-type condition variables below
	conds map[model.MessageType]*sync.Cond

	metrics MetricsSink
}

// SetMetricsSink attaches an optional pushed/popped counter mirror. Pass nil to
// detach; the zero value (no sink) is a safe default.
func (q *Queue) SetMetricsSink(s MetricsSink) { q.metrics = s }

// Open creates or reopens the queue file at path, reverting any record
// left IN_FLIGHT by a previous process (crash safety / at-least-once
// delivery) back to PENDING.
func Open(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, apperr.NewQueueError("open "+path, err)
	}
	q := &Queue{db: db, conds: make(map[model.MessageType]*sync.Cond)}
	for _, t := range allTypes {
		q.conds[t] = sync.NewCond(&sync.Mutex{})
	}
	if err := q.init(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) init() error {
	return q.db.Update(func(tx *bolt.Tx) error {
		for _, t := range allTypes {
			b, err := tx.CreateBucketIfNotExists(bucketName(t))
			if err != nil {
				return err
			}
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var rec model.QueueRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					continue
				}
				if rec.State == model.QueueInFlight {
					rec.State = model.QueuePending
					encoded, err := json.Marshal(rec)
					if err != nil {
						return err
					}
					if err := b.Put(k, encoded); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func bucketName(t model.MessageType) []byte { return []byte(t) }

func seqKey(seq int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	return buf
}

// Close flushes and releases the backing file.
func (q *Queue) Close() error {
	err := q.db.Close()
	for _, t := range allTypes {
		q.broadcast(t)
	}
	if err != nil {
		return apperr.NewQueueError("close", err)
	}
	return nil
}

// Push assigns the next sequence number for msg.Type, writes it durably
// as PENDING, and wakes any AwaitNextN callers blocked on that type.
func (q *Queue) Push(msg model.Message) (id string, err error) {
	ids, err := q.PushBatch([]model.Message{msg})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PushBatch writes msgs atomically: either all become durable and visible
// or, on any error, none do.
func (q *Queue) PushBatch(msgs []model.Message) ([]string, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(msgs))
	byType := map[model.MessageType]bool{}
	err := q.db.Update(func(tx *bolt.Tx) error {
		for i, msg := range msgs {
			b := tx.Bucket(bucketName(msg.Type))
			if b == nil {
				return apperr.NewQueueError("push", errUnknownType(msg.Type))
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			blob, err := json.Marshal(msg.Data)
			if err != nil {
				return err
			}
			rec := model.QueueRecord{
				Seq:        int64(seq),
				Type:       msg.Type,
				Module:     msg.Module,
				ModuleType: msg.ModuleType,
				Metadata:   msg.Metadata,
				DataBlob:   blob,
				State:      model.QueuePending,
				ID:         uuid.NewString(),
			}
			encoded, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(rec.Seq), encoded); err != nil {
				return err
			}
			ids[i] = rec.ID
			byType[msg.Type] = true
		}
		return nil
	})
	if err != nil {
		return nil, apperr.NewQueueError("push_batch", err)
	}
	for t := range byType {
		q.broadcast(t)
	}
	if q.metrics != nil {
		counts := map[model.MessageType]int{}
		for _, msg := range msgs {
			counts[msg.Type]++
		}
		for t, n := range counts {
			q.metrics.IncrPushed(t, n)
		}
	}
	return ids, nil
}

func (q *Queue) broadcast(t model.MessageType) {
	c := q.conds[t]
	c.L.Lock()
	c.Broadcast()
	c.L.Unlock()
}

// PeekN returns up to n PENDING records of the given type (optionally
// filtered by module), in FIFO order, without changing their state. It
// returns immediately with whatever is available, including none.
func (q *Queue) PeekN(t model.MessageType, n int, module string) ([]model.QueueRecord, error) {
	var out []model.QueueRecord
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(t))
		if b == nil {
			return errUnknownType(t)
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(out) < n; k, v = c.Next() {
			var rec model.QueueRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.State != model.QueuePending {
				continue
			}
			if module != "" && rec.Module != module {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.NewQueueError("peek_n", err)
	}
	return out, nil
}

// AwaitNextN suspends until at least one matching PENDING record exists
// (or ctx is cancelled), then returns up to n of them via PeekN. It is
// the awaitable form of get_next_n_awaitable in §4.3.
func (q *Queue) AwaitNextN(ctx context.Context, t model.MessageType, n int, module string) ([]model.QueueRecord, error) {
	for {
		recs, err := q.PeekN(t, n, module)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
		if waitErr := q.waitOrDone(ctx, t); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (q *Queue) waitOrDone(ctx context.Context, t model.MessageType) error {
	c := q.conds[t]
	woke := make(chan struct{})
	go func() {
		c.L.Lock()
		c.Wait()
		c.L.Unlock()
		close(woke)
	}()
	select {
	case <-ctx.Done():
		// The waiting goroutine is not woken here; it exits on the next
		// Push of this type or when Close broadcasts to every type.
		return ctx.Err()
	case <-woke:
		return nil
	}
}

// PopN removes up to n of the oldest PENDING records of type t (filtered
// by module if non-empty), returning the count actually removed. This is
// the only transition out of PENDING; popped records are deleted rather
// than retained as DONE tombstones, since DONE rows are garbage collected
// immediately after a successful ack.
func (q *Queue) PopN(t model.MessageType, n int, module string) (int, error) {
	removed := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(t))
		if b == nil {
			return errUnknownType(t)
		}
		c := b.Cursor()
		var keys [][]byte
		for k, v := c.First(); k != nil && len(keys) < n; k, v = c.Next() {
			var rec model.QueueRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.State != model.QueuePending {
				continue
			}
			if module != "" && rec.Module != module {
				continue
			}
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	if err != nil {
		return 0, apperr.NewQueueError("pop_n", err)
	}
	if q.metrics != nil && removed > 0 {
		q.metrics.IncrPopped(t, removed)
	}
	return removed, nil
}

// IsEmpty reports whether no PENDING record of type t (optionally
// filtered by module) remains.
func (q *Queue) IsEmpty(t model.MessageType, module string) (bool, error) {
	recs, err := q.PeekN(t, 1, module)
	if err != nil {
		return false, err
	}
	return len(recs) == 0, nil
}

// Len counts PENDING records of type t.
func (q *Queue) Len(t model.MessageType) (int, error) {
	count := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(t))
		if b == nil {
			return errUnknownType(t)
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec model.QueueRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.State == model.QueuePending {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperr.NewQueueError("len", err)
	}
	return count, nil
}

type unknownTypeError struct{ t model.MessageType }

func (e unknownTypeError) Error() string { return "unknown message type: " + string(e.t) }

func errUnknownType(t model.MessageType) error { return unknownTypeError{t: t} }
