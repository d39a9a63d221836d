// Package apperr defines the agent's error taxonomy so callers can branch on
// failure class with errors.As instead of string matching.
package apperr

import "fmt"

// ConfigError wraps a configuration parse, merge or lookup failure.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %v", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// TransportError wraps a resolve/connect/write/read failure in the HTTP layer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// AuthError covers 401/403 responses and missing/invalid exp claims.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

func NewAuthError(op string, err error) error {
	return &AuthError{Op: op, Err: err}
}

// QueueError wraps a storage I/O failure in the persistent queue.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string { return fmt.Sprintf("queue: %s: %v", e.Op, e.Err) }
func (e *QueueError) Unwrap() error { return e.Err }

func NewQueueError(op string, err error) error {
	return &QueueError{Op: op, Err: err}
}

// ModuleError wraps a failure raised by a module's Setup/Start/Stop/ExecuteCommand.
type ModuleError struct {
	Module string
	Op     string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s: %s: %v", e.Module, e.Op, e.Err)
}
func (e *ModuleError) Unwrap() error { return e.Err }

func NewModuleError(module, op string, err error) error {
	return &ModuleError{Module: module, Op: op, Err: err}
}

// Fatal marks an error that should propagate to the orchestrator and begin
// an orderly shutdown rather than being swallowed by the loop that observed it.
type Fatal struct {
	Err error
}

func (e *Fatal) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *Fatal) Unwrap() error { return e.Err }

func NewFatal(err error) error {
	return &Fatal{Err: err}
}
