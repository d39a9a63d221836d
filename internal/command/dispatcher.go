// Package command implements C8: the command handler and dispatcher.
// It pulls CommandEntry records off the COMMAND queue, resolves a target
// (a registered module, or the centralized-configuration pseudo-module),
// invokes it under a per-command deadline, and writes the terminal result
// back as a COMMAND_RESULT.
package command

import (
	"context"
	"encoding/json"
	"time"

	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
	"endpointagent/internal/queue"
)

const defaultCommandTimeout = 60 * time.Second

// Target is anything a command can be dispatched to: a registered module
// or the centralized-config pseudo-module both satisfy it.
type Target interface {
	ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) (model.CommandResult, error)
}

// ModuleResolver resolves a module by name, mirroring *modules.Manager's
// Get without creating an import-cycle dependency on that package.
type ModuleResolver func(name string) (Target, bool)

// Dispatcher routes CommandEntry records to their target and enforces the
// per-command deadline.
type Dispatcher struct {
	resolve ModuleResolver
	config  Target
	timeout time.Duration
}

// NewDispatcher builds a Dispatcher. config handles commands addressed to
// model.CentralizedConfigModule; resolve looks up any other module name.
func NewDispatcher(resolve ModuleResolver, config Target, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Dispatcher{resolve: resolve, config: config, timeout: timeout}
}

// Dispatch resolves entry's target and invokes it under a per-command
// deadline, returning the terminal ExecutionResult. It never returns an
// error itself: failures are folded into the result's FAILURE/TIMEOUT
// status so the caller always has something to persist.
func (d *Dispatcher) Dispatch(ctx context.Context, entry model.CommandEntry) model.ExecutionResult {
	target, ok := d.resolveTarget(entry.Module)
	if !ok {
		return model.ExecutionResult{Status: model.StatusFailure, Message: "unknown module: " + entry.Module}
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		res model.CommandResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := target.ExecuteCommand(cctx, entry.Command, entry.Parameters)
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-cctx.Done():
		if cctx.Err() == context.DeadlineExceeded {
			return model.ExecutionResult{Status: model.StatusTimeout, Message: "command deadline exceeded"}
		}
		return model.ExecutionResult{Status: model.StatusFailure, Message: cctx.Err().Error()}
	case o := <-done:
		if o.err != nil {
			return model.ExecutionResult{Status: model.StatusFailure, Message: o.err.Error()}
		}
		return model.ExecutionResult{Status: o.res.Status, Message: o.res.Message}
	}
}

func (d *Dispatcher) resolveTarget(module string) (Target, bool) {
	if module == model.CentralizedConfigModule {
		if d.config == nil {
			return nil, false
		}
		return d.config, true
	}
	if d.resolve == nil {
		return nil, false
	}
	return d.resolve(module)
}

// Processor is the commands_processing_task loop: it peeks the oldest
// pending COMMAND, dispatches it, writes the terminal result, pops the
// original entry, and pushes the result as COMMAND_RESULT.
type Processor struct {
	q    *queue.Queue
	d    *Dispatcher
	poll time.Duration
}

// NewProcessor builds a Processor draining q's COMMAND bucket through d.
func NewProcessor(q *queue.Queue, d *Dispatcher) *Processor {
	return &Processor{q: q, d: d, poll: time.Second}
}

// Run loops until ctx is cancelled, processing one command at a time.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		recs, err := p.q.PeekN(model.MessageCommand, 1, "")
		if err != nil {
			logger.Errorf("command processor: peek failed: %v", err)
			if !sleepCtx(ctx, p.poll) {
				return ctx.Err()
			}
			continue
		}
		if len(recs) == 0 {
			if !sleepCtx(ctx, p.poll) {
				return ctx.Err()
			}
			continue
		}
		p.process(ctx, recs[0])
	}
}

func (p *Processor) process(ctx context.Context, rec model.QueueRecord) {
	var entry model.CommandEntry
	if err := json.Unmarshal(rec.DataBlob, &entry); err != nil {
		logger.Errorf("command processor: decode failed: %v", err)
		if _, err := p.q.PopN(model.MessageCommand, 1, ""); err != nil {
			logger.Errorf("command processor: pop undecodable entry failed: %v", err)
		}
		return
	}

	entry.ExecutionResult = model.ExecutionResult{Status: model.StatusInProgress}
	entry.ExecutionResult = p.d.Dispatch(ctx, entry)

	if _, err := p.q.PopN(model.MessageCommand, 1, ""); err != nil {
		logger.Errorf("command processor: pop failed: %v", err)
	}

	if _, err := p.q.Push(model.Message{
		Type:   model.MessageCommandResult,
		Data:   entry,
		Module: entry.Module,
	}); err != nil {
		logger.Errorf("command processor: push result failed: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
