// Package netreach is a second demonstration telemetry module: a periodic
// TCP-connect reachability sweep of configured targets, pushed as
// STATELESS events. Each target's ports are raced concurrently and the
// first successful connect wins, turning what was once a one-shot scan
// job into a recurring module under C7's supervision.
package netreach

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
)

const (
	defaultInterval = time.Minute
	defaultTimeout  = 2 * time.Second
)

// Result is the outcome of probing one target.
type Result struct {
	Target    string    `json:"target"`
	Port      int       `json:"port"`
	Reachable bool      `json:"reachable"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Module is C7's "netreach" demonstration citizen of the Module contract.
type Module struct {
	mu       sync.Mutex
	push     model.PushFunc
	targets  []string
	ports    []int
	interval time.Duration
	timeout  time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New constructs a Module with no configured targets; Setup populates
// them from config.
func New() *Module {
	d := &net.Dialer{}
	return &Module{
		interval: defaultInterval,
		timeout:  defaultTimeout,
		dial:     d.DialContext,
	}
}

func (m *Module) Name() string { return "NetReach" }

func (m *Module) SetPushMessageFn(fn model.PushFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push = fn
}

func (m *Module) Setup(ctx context.Context, cfg *model.ConfigSnapshot) error {
	if cfg == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if targets, ok := cfg.GetStringList("netreach", "targets"); ok {
		m.targets = targets
	}
	if ms, ok := cfg.GetDurationMS("netreach", "interval"); ok && ms > 0 {
		m.interval = time.Duration(ms) * time.Millisecond
	}
	if ms, ok := cfg.GetDurationMS("netreach", "timeout"); ok && ms > 0 {
		m.timeout = time.Duration(ms) * time.Millisecond
	}
	if len(m.ports) == 0 {
		m.ports = []int{80, 443}
	}
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	interval := m.interval
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(runCtx, interval)
	return nil
}

func (m *Module) loop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	m.sweepAndPush(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepAndPush(ctx)
		}
	}
}

func (m *Module) sweepAndPush(ctx context.Context) {
	results := m.sweep(ctx)
	if len(results) == 0 {
		return
	}
	m.mu.Lock()
	push := m.push
	m.mu.Unlock()
	if push == nil {
		return
	}
	for _, r := range results {
		if rc := push(model.Message{
			Type:       model.MessageStateless,
			Data:       r,
			Module:     m.Name(),
			ModuleType: "reachability",
		}); rc != 0 {
			logger.Warnf("netreach: push returned %d", rc)
		}
	}
}

func (m *Module) sweep(ctx context.Context) []Result {
	m.mu.Lock()
	targets := append([]string{}, m.targets...)
	ports := append([]int{}, m.ports...)
	timeout := m.timeout
	dial := m.dial
	m.mu.Unlock()

	var results []Result
	for _, target := range targets {
		results = append(results, m.probeTarget(ctx, dial, target, ports, timeout))
	}
	return results
}

// probeTarget races every configured port and returns on the first
// successful connect, or an unreachable Result once all have failed.
func (m *Module) probeTarget(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), target string, ports []int, timeout time.Duration) Result {
	type probeOutcome struct {
		port    int
		latency time.Duration
		ok      bool
	}
	out := make(chan probeOutcome, len(ports))
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, port := range ports {
		go func(port int) {
			addr := net.JoinHostPort(target, strconv.Itoa(port))
			start := time.Now()
			conn, err := dial(probeCtx, "tcp", addr)
			if err != nil {
				out <- probeOutcome{port: port, ok: false}
				return
			}
			conn.Close()
			out <- probeOutcome{port: port, latency: time.Since(start), ok: true}
		}(port)
	}

	best := Result{Target: target, CheckedAt: time.Now()}
	for i := 0; i < len(ports); i++ {
		select {
		case o := <-out:
			if o.ok {
				best.Reachable = true
				best.Port = o.port
				best.LatencyMS = o.latency.Milliseconds()
				return best
			}
		case <-probeCtx.Done():
			return best
		}
	}
	return best
}

func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}

// ExecuteCommand supports an on-demand "sweep" command returning the
// current reachability snapshot synchronously.
func (m *Module) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) (model.CommandResult, error) {
	switch command {
	case "sweep":
		results := m.sweep(ctx)
		blob, err := json.Marshal(results)
		if err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: err.Error()}, nil
		}
		return model.CommandResult{Status: model.StatusSuccess, Message: string(blob)}, nil
	default:
		return model.CommandResult{Status: model.StatusFailure, Message: "unknown command: " + command}, nil
	}
}
