// Package hostinfo is a demonstration telemetry module: it periodically
// collects host facts via gopsutil and pushes them as STATEFUL messages,
// satisfying the model.Module capability contract. What was once a
// one-shot registration payload becomes a recurring module under C7's
// supervision.
package hostinfo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
)

const defaultInterval = 5 * time.Minute

// Facts is the snapshot this module pushes.
type Facts struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platform_version"`
	KernelVersion   string  `json:"kernel_version"`
	Arch            string  `json:"arch"`
	CPUCores        int     `json:"cpu_cores"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryTotal     uint64  `json:"memory_total"`
	MemoryPercent   float64 `json:"memory_used_percent"`
	DiskTotal       uint64  `json:"disk_total"`
	DiskPercent     float64 `json:"disk_used_percent"`
}

// Module is C7's "hostinfo" demonstration citizen of the Module contract.
type Module struct {
	mu       sync.Mutex
	push     model.PushFunc
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Module with the default collection interval; Setup may
// override it from the "hostinfo.interval" config key.
func New() *Module {
	return &Module{interval: defaultInterval}
}

func (m *Module) Name() string { return "HostInfo" }

func (m *Module) SetPushMessageFn(fn model.PushFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push = fn
}

func (m *Module) Setup(ctx context.Context, cfg *model.ConfigSnapshot) error {
	if cfg == nil {
		return nil
	}
	if ms, ok := cfg.GetDurationMS("hostinfo", "interval"); ok && ms > 0 {
		m.mu.Lock()
		m.interval = time.Duration(ms) * time.Millisecond
		m.mu.Unlock()
	}
	return nil
}

// Start launches the collection loop in a goroutine and returns
// immediately, per the module contract's non-blocking Start expectation.
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
	m.collectAndPush()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectAndPush()
		}
	}
}

func (m *Module) collectAndPush() {
	facts, err := collect()
	if err != nil {
		logger.Warnf("hostinfo: collect failed: %v", err)
		return
	}
	m.mu.Lock()
	push := m.push
	m.mu.Unlock()
	if push == nil {
		return
	}
	if rc := push(model.Message{
		Type:       model.MessageStateful,
		Data:       facts,
		Module:     m.Name(),
		ModuleType: "host_facts",
	}); rc != 0 {
		logger.Warnf("hostinfo: push returned %d", rc)
	}
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

// ExecuteCommand supports an on-demand "collect" command that returns the
// current facts synchronously instead of waiting for the next tick.
func (m *Module) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) (model.CommandResult, error) {
	switch command {
	case "collect":
		facts, err := collect()
		if err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: err.Error()}, nil
		}
		blob, err := json.Marshal(facts)
		if err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: err.Error()}, nil
		}
		return model.CommandResult{Status: model.StatusSuccess, Message: string(blob)}, nil
	default:
		return model.CommandResult{Status: model.StatusFailure, Message: "unknown command: " + command}, nil
	}
}

func collect() (*Facts, error) {
	f := &Facts{}

	if hInfo, err := host.Info(); err == nil {
		f.Hostname = hInfo.Hostname
		f.OS = hInfo.OS
		f.Platform = hInfo.Platform
		f.PlatformVersion = hInfo.PlatformVersion
		f.KernelVersion = hInfo.KernelVersion
		f.Arch = hInfo.KernelArch
	}

	if cpuInfo, err := cpu.Info(); err == nil {
		f.CPUCores = len(cpuInfo)
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		f.CPUPercent = pct[0]
	}

	if vMem, err := mem.VirtualMemory(); err == nil {
		f.MemoryTotal = vMem.Total
		f.MemoryPercent = vMem.UsedPercent
	}

	if dUsage, err := disk.Usage("/"); err == nil {
		f.DiskTotal = dUsage.Total
		f.DiskPercent = dUsage.UsedPercent
	}

	return f, nil
}
