// Package signalbus is a process-wide named event bus for lifecycle
// signals (config reload, shutdown) that decouples producers like the
// config watcher from consumers like the communicator's loop supervisors.
package signalbus

import "sync"

// Handle is returned by Register; dropping it (calling Unregister) stops
// the callback from being invoked by future Notify calls.
type Handle struct {
	name string
	id   uint64
}

type subscriber struct {
	id uint64
	cb func()
}

// Bus maps an event name to an ordered list of zero-argument callbacks.
// Registration and notification are serialized by a single mutex; a
// callback that registers another listener during Notify is queued for
// the next Notify rather than invoked in the current pass.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscriber
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Register subscribes cb to name. Callbacks must be non-blocking; long
// work should be posted to the task manager instead of run inline.
func (b *Bus) Register(name string, cb func()) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscriber{id: id, cb: cb})
	return &Handle{name: name, id: id}
}

// Unregister drops h's callback. Notifying an already-unregistered handle
// is a no-op.
func (b *Bus) Unregister(h *Handle) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[h.name]
	for i, s := range list {
		if s.id == h.id {
			b.subs[h.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Notify invokes every callback currently registered for name, in
// registration order, synchronously. Notifying an unknown name is a
// no-op. Because the callback list is snapshotted under lock before any
// callback runs, a callback that calls Register during this pass only
// affects the next Notify.
func (b *Bus) Notify(name string) {
	b.mu.Lock()
	list := append([]subscriber{}, b.subs[name]...)
	b.mu.Unlock()

	for _, s := range list {
		s.cb()
	}
}
