// Package agent implements C9: the orchestrator that wires the config
// store, queue, signal bus, transport, communicator, task manager,
// module manager and command pipeline together, and owns their
// startup/shutdown order.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"endpointagent/internal/comm"
	"endpointagent/internal/command"
	"endpointagent/internal/config"
	"endpointagent/internal/identitystore"
	"endpointagent/internal/model"
	"endpointagent/internal/modules"
	"endpointagent/internal/modules/hostinfo"
	"endpointagent/internal/modules/netreach"
	"endpointagent/internal/pkg/logger"
	"endpointagent/internal/pkg/version"
	"endpointagent/internal/queue"
	"endpointagent/internal/signalbus"
	"endpointagent/internal/taskmgr"
	"endpointagent/internal/transport"
)

// Agent is C9. It exclusively owns the task manager, the queue, the
// communicator, the module manager and the config store; TokenState is
// shared with the communicator's own loops as the one writer/many reader
// pair described for C5.
type Agent struct {
	cfg       *config.Config
	store     *config.Store
	identityS *identitystore.Store
	identity  *model.AgentIdentity
	token     *model.TokenState

	q            *queue.Queue
	queueMetrics *queue.RedisMetricsSink
	bus          *signalbus.Bus
	tasks        *taskmgr.Manager
	comm         *comm.Communicator
	mods         *modules.Manager
	proc         *command.Processor
	watcher      *config.FileWatcher

	cancel context.CancelFunc
}

// New loads configuration from cfgPath (empty uses the OS default
// location), opens the persistent stores, and wires every component, but
// starts nothing. Call Start to bring the agent up.
func New(cfgPath string) (*Agent, error) {
	if cfgPath == "" {
		cfgPath = config.ResolveConfigPath()
	}
	cfg, err := config.NewLoader(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if _, err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Agent{cfg: cfg, bus: signalbus.New(), token: &model.TokenState{}}

	if err := os.MkdirAll(cfg.Agent.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Agent.SharedDir, 0o755); err != nil {
		return nil, fmt.Errorf("create shared dir: %w", err)
	}

	identityPath := filepath.Join(cfg.Agent.StateDir, "agent_info.db")
	idStore, err := identitystore.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	a.identityS = idStore

	identity, ok, err := idStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		if cfg.Agent.UUID == "" {
			return nil, fmt.Errorf("agent is not enrolled: no stored identity and no uuid/key configured")
		}
		identity = model.NewAgentIdentity(cfg.Agent.UUID, cfg.Agent.Key, cfg.Agent.Groups)
		if err := idStore.SaveCredentials(identity.UUID, identity.Key); err != nil {
			return nil, fmt.Errorf("persist identity: %w", err)
		}
		if err := idStore.SaveGroups(identity.Groups()); err != nil {
			return nil, fmt.Errorf("persist groups: %w", err)
		}
	}
	a.identity = identity

	store, err := config.NewStore(cfg.Agent.ConfigPath, identity.Groups, config.DefaultSharedOverlayFetcher(cfg.Agent.SharedDir))
	if err != nil {
		return nil, fmt.Errorf("init config store: %w", err)
	}
	a.store = store

	q, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	a.q = q
	if cfg.Queue.MetricsAddr != "" {
		sink := queue.NewRedisMetricsSink(cfg.Queue.MetricsAddr, cfg.Queue.MetricsDB, "endpoint-agent:queue")
		q.SetMetricsSink(sink)
		a.queueMetrics = sink
	}

	client := transport.New(transport.Options{UserAgent: version.GetUserAgent()})
	commCfg := comm.Config{
		Host:             cfg.Master.Host,
		Port:             cfg.Master.Port,
		HTTPS:            cfg.Master.HTTPS,
		RetryInterval:    cfg.Master.RetryInterval,
		BatchingInterval: cfg.Master.BatchingInterval,
		PreExpiry:        cfg.Master.PreExpiry,
		MaxBatchBytes:    cfg.Master.MaxBatchBytes,
	}
	c := comm.New(commCfg, client, a.token, a.identity, q)
	c.OnCommands = a.enqueueCommands
	a.comm = c

	a.mods = modules.NewManager(a.pushMessage)
	if err := a.mods.Register(hostinfo.New()); err != nil {
		return nil, fmt.Errorf("register hostinfo module: %w", err)
	}
	if err := a.mods.Register(netreach.New()); err != nil {
		return nil, fmt.Errorf("register netreach module: %w", err)
	}

	centralizedConfig := command.NewCentralizedConfig(a.identity, a.store, a.fetchGroupOverlay, a.identityS.SaveGroups)
	dispatcher := command.NewDispatcher(a.resolveModule, centralizedConfig, cfg.Master.CommandTimeout)
	a.proc = command.NewProcessor(a.q, dispatcher)

	// Start hands seven loops to the pool and each holds its worker until
	// shutdown, so the pool needs at least one worker per loop.
	a.tasks = taskmgr.New(max(runtime.NumCPU(), 7), 0)

	watcher, err := config.NewFileWatcher(a.store, cfg.Agent.ConfigPath, 500*time.Millisecond)
	if err != nil {
		logger.Warnf("config file watcher unavailable: %v", err)
	} else {
		a.watcher = watcher
	}

	return a, nil
}

func (a *Agent) pushMessage(msg model.Message) int {
	if _, err := a.q.Push(msg); err != nil {
		logger.Errorf("agent: push from module failed: %v", err)
		return 1
	}
	return 0
}

func (a *Agent) resolveModule(name string) (command.Target, bool) {
	mod, ok := a.mods.Get(name)
	if !ok {
		return nil, false
	}
	return mod, true
}

func (a *Agent) fetchGroupOverlay(group string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	body, err := a.comm.FetchGroupOverlay(ctx, group)
	if err != nil {
		return err
	}
	path := filepath.Join(a.cfg.Agent.SharedDir, group+".conf")
	return os.WriteFile(path, body, 0o644)
}

// enqueueCommands decodes a raw JSON array of CommandEntry and pushes each
// as a COMMAND, bridging the communicator's pull loop into the queue
// without giving the communicator a direct reference to the agent.
func (a *Agent) enqueueCommands(raw []byte) {
	entries, err := decodeCommandEntries(raw)
	if err != nil {
		logger.Errorf("agent: decode commands failed: %v", err)
		return
	}
	for _, entry := range entries {
		entry.ExecutionResult = model.ExecutionResult{Status: model.StatusInProgress}
		if _, err := a.q.Push(model.Message{Type: model.MessageCommand, Data: entry, Module: entry.Module}); err != nil {
			logger.Errorf("agent: enqueue command %s failed: %v", entry.ID, err)
		}
	}
}

// Start brings every subsystem up: modules first, then the command
// processor and communicator loops are handed to the task manager.
func (a *Agent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.mods.Setup(runCtx, a.store.Snapshot())
	a.mods.Start(runCtx)

	a.bus.Register("reload", func() {
		a.mods.Setup(runCtx, a.store.Snapshot())
	})
	a.store.Watch(func(*model.ConfigSnapshot) { a.bus.Notify("reload") })

	if err := a.tasks.Enqueue(func(context.Context) { a.comm.AuthLoop(runCtx) }); err != nil {
		return err
	}
	if err := a.tasks.Enqueue(func(context.Context) {
		if err := a.comm.RunCommandsLoop(runCtx); err != nil {
			logger.Warnf("commands loop exited: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := a.tasks.Enqueue(func(context.Context) {
		if err := a.comm.RunStatefulLoop(runCtx); err != nil {
			logger.Warnf("stateful loop exited: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := a.tasks.Enqueue(func(context.Context) {
		if err := a.comm.RunStatelessLoop(runCtx); err != nil {
			logger.Warnf("stateless loop exited: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := a.tasks.Enqueue(func(context.Context) {
		if err := a.comm.RunCommandResultsLoop(runCtx); err != nil {
			logger.Warnf("command results loop exited: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := a.tasks.Enqueue(func(context.Context) {
		if err := a.proc.Run(runCtx); err != nil {
			logger.Warnf("command processor exited: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := a.tasks.Enqueue(func(context.Context) { a.heartbeatLoop(runCtx) }); err != nil {
		return err
	}

	return nil
}

// heartbeatLoop pushes a lightweight STATELESS heartbeat on
// master.heartbeat_interval, independent of any module, so the manager
// can tell a quiet agent from a dead one even when no module has
// anything to report.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := a.cfg.Master.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := a.q.Push(model.Message{
				Type:       model.MessageStateless,
				Data:       map[string]int64{"ts": time.Now().Unix()},
				ModuleType: "heartbeat",
			})
			if err != nil {
				logger.Warnf("agent: heartbeat push failed: %v", err)
			}
		}
	}
}

// Stop shuts down in the order C5, C7, C6: the communicator first (it
// stops issuing new requests), then modules, then the task pool joins.
func (a *Agent) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.comm.Stop()
	a.mods.Stop(ctx)
	a.tasks.Stop()

	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			logger.Warnf("config watcher close failed: %v", err)
		}
	}
	if err := a.q.Close(); err != nil {
		logger.Warnf("queue close failed: %v", err)
	}
	if a.queueMetrics != nil {
		if err := a.queueMetrics.Close(); err != nil {
			logger.Warnf("queue metrics sink close failed: %v", err)
		}
	}
	if err := a.identityS.Close(); err != nil {
		logger.Warnf("identity store close failed: %v", err)
	}
	return nil
}

// Identity exposes the agent's identity for CLI subcommands like status.
func (a *Agent) Identity() *model.AgentIdentity { return a.identity }
