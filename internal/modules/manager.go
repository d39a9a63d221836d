// Package modules implements C7: the module manager registers, sets up,
// starts, and stops named telemetry/response modules, and routes
// ExecuteCommand calls to the module a CommandEntry targets.
package modules

import (
	"context"
	"fmt"
	"sync"

	"endpointagent/internal/apperr"
	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
)

// Manager holds an insertion-ordered map name -> Module with
// duplicate-rejecting registration, driving each module's lifecycle and
// routing ExecuteCommand calls to the module a CommandEntry targets.
type Manager struct {
	mu      sync.RWMutex
	order   []string
	modules map[string]model.Module
	push    model.PushFunc
}

// NewManager constructs an empty Manager. push is injected into every
// module via SetPushMessageFn before Setup runs.
func NewManager(push model.PushFunc) *Manager {
	return &Manager{modules: make(map[string]model.Module), push: push}
}

// Register captures m.Name() exactly once; a duplicate name fails the
// operation and leaves the store holding only the first registrant.
func (m *Manager) Register(mod model.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := mod.Name()
	if _, exists := m.modules[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}
	m.modules[name] = mod
	m.order = append(m.order, name)
	return nil
}

// Get returns the registered module named name, if any.
func (m *Manager) Get(name string) (model.Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[name]
	return mod, ok
}

// Names returns the registered module names in insertion order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Setup calls SetPushMessageFn then Setup on every module in insertion
// order. A module that fails Setup is logged and does not short-circuit
// the rest, per the error-isolation policy in §7.
func (m *Manager) Setup(ctx context.Context, cfg *model.ConfigSnapshot) {
	for _, name := range m.Names() {
		mod, ok := m.Get(name)
		if !ok {
			continue
		}
		mod.SetPushMessageFn(m.push)
		if err := mod.Setup(ctx, cfg); err != nil {
			logger.Warnf("%v", apperr.NewModuleError(name, "setup", err))
		}
	}
}

// Start calls Start on every module in insertion order. Start is expected
// to be non-blocking; a module that fails to start is logged and isolated
// rather than aborting the remaining modules.
func (m *Manager) Start(ctx context.Context) {
	for _, name := range m.Names() {
		mod, ok := m.Get(name)
		if !ok {
			continue
		}
		if err := mod.Start(ctx); err != nil {
			logger.Warnf("%v", apperr.NewModuleError(name, "start", err))
		}
	}
}

// Stop calls Stop on every module in *insertion* order, not reverse.
// Modules are independent of one another, so shutdown order doesn't matter;
// a module whose Stop is called twice must tolerate it itself.
func (m *Manager) Stop(ctx context.Context) {
	for _, name := range m.Names() {
		mod, ok := m.Get(name)
		if !ok {
			continue
		}
		if err := mod.Stop(ctx); err != nil {
			logger.Warnf("%v", apperr.NewModuleError(name, "stop", err))
		}
	}
}
