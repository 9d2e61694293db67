// Command hrun-runtime is the server process: it creates the
// shared-memory region, brings up the work orchestrator and its worker
// pool, bootstraps the admin task state and the configured task libraries
// through it, binds the libp2p transport for remote dispatch, and blocks
// until SIGINT or SIGTERM, then shuts down and exits. A StopRuntime admin
// task stops the workers and the transport but does not end this wait;
// the process keeps running until a signal arrives.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/hstor/hrun/pkg/hadmin"
	"github.com/hstor/hrun/pkg/hconfig"
	"github.com/hstor/hrun/pkg/hdispatch"
	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hnet"
	"github.com/hstor/hrun/pkg/horch"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hruntime"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/htransport"
	"github.com/hstor/hrun/pkg/states/sched"
	"github.com/hstor/hrun/pkg/states/smallmessage"
)

func main() {
	configPath := flag.String("config", "", "path to the server YAML config (falls back to $SERVER_CONF)")
	hostFile := flag.String("hostfile", "", "path to the cluster host file (overrides the config's rpc.host_file)")
	bindCPUs := flag.String("bind-cpus", "", "override work_orchestrator.bind_cpus (true/false)")
	debugAddr := flag.String("debug-addr", ":6369", "address for the admin debug HTTP surface (empty disables it)")
	flag.Parse()

	cfg, err := hconfig.LoadServer(*configPath)
	if err != nil {
		log.Fatalf("hrun-runtime: load config: %v", err)
	}
	if *hostFile != "" {
		cfg.RPC.HostFile = *hostFile
	}
	if *bindCPUs != "" {
		cfg.WorkOrchestrator.BindCPUs = parseBoolFlag(*bindCPUs, cfg.WorkOrchestrator.BindCPUs)
	}

	level, err := hlog.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("hrun-runtime: parse log_level: %v", err)
	}
	logger := hlog.New(level)
	defer logger.Sync()

	hosts, err := hnet.Load(cfg.RPC.HostFile, logger)
	if err != nil {
		logger.Fatalw("load host file", "err", err)
	}
	local, err := hnet.LocalNodeId(hosts)
	if err != nil {
		logger.Fatalw("resolve local node id", "err", err)
	}
	if err := hosts.Watch(); err != nil {
		logger.Warnw("host file watch unavailable", "err", err)
	}
	defer hosts.Close()

	registry := hregistry.New(uint(cfg.QueueManager.MaxQueues))

	rt, err := hruntime.New(local, cfg.QueueManager.RegionName, cfg.QueueManager.RegionSize, registry)
	if err != nil {
		logger.Fatalw("create shared region", "err", err)
	}

	orch := horch.New(horch.Config{
		MaxWorkers: cfg.WorkOrchestrator.MaxDedicatedWorkers,
		LocalNode:  local,
		BindCPUs:   cfg.WorkOrchestrator.BindCPUs,
	}, registry, rt.Tasks, logger)

	transport, err := htransport.New(local, hosts, cfg.RPC.Seed, cfg.RPC.Port, logger)
	if err != nil {
		logger.Fatalw("create transport", "err", err)
	}
	dispatcher := hdispatch.New(local, hosts.NumNodes(), registry, rt, transport, logger.With("component", "hdispatch"))
	transport.Bind(dispatcher)
	for i := 0; i < orch.NumWorkers(); i++ {
		orch.Worker(i).SetDispatcher(dispatcher)
	}

	adminState := hadmin.New(rt, orch, logger.With("component", "hadmin"), transport)
	if err := registry.RegisterLib("admin", func(string) htask.State { return adminState }); err != nil {
		logger.Fatalw("register admin library", "err", err)
	}
	adminStateId, err := registry.CreateTaskState(local, "admin", "admin")
	if err != nil {
		logger.Fatalw("create admin task state", "err", err)
	}
	adminQueue := hqueue.New(hids.NewQueueId(adminStateId), []hqueue.GroupConfig{
		{Prio: hqueue.Admin, NumLanes: 1, Depth: cfg.QueueManager.DefaultDepth},
	})
	rt.RegisterQueue(adminQueue)
	orch.RegisterQueue(adminQueue)
	orch.ScheduleQueues()

	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)

	// Register the two built-in scheduler states and install them as the
	// active policies, dispatched through the admin queue exactly the way
	// any other admin client would.
	if err := registry.RegisterLib("queue_sched", func(string) htask.State { return sched.NewQueueSchedState(orch) }); err != nil {
		logger.Fatalw("register queue_sched library", "err", err)
	}
	if err := registry.RegisterLib("proc_sched", func(string) htask.State { return sched.NewProcSchedState(orch) }); err != nil {
		logger.Fatalw("register proc_sched library", "err", err)
	}
	queueSchedId := mustCreateTaskState(rt, adminStateId, "queue_sched", "queue_sched", []hqueue.GroupConfig{
		{Prio: hqueue.Admin, NumLanes: 1, Depth: 8},
	}, logger)
	procSchedId := mustCreateTaskState(rt, adminStateId, "proc_sched", "proc_sched", []hqueue.GroupConfig{
		{Prio: hqueue.Admin, NumLanes: 1, Depth: 8},
	}, logger)
	mustSetPolicy(rt, adminStateId, queueSchedId, hadmin.MethodSetWorkOrchQueuePolicy, logger)
	mustSetPolicy(rt, adminStateId, procSchedId, hadmin.MethodSetWorkOrchProcPolicy, logger)

	// Bootstrap the configured task libraries.
	for _, libName := range cfg.BootstrapLibs {
		switch libName {
		case "small_message":
			if err := registry.RegisterLib("small_message", func(name string) htask.State { return smallmessage.New(name) }); err != nil {
				logger.Fatalw("register bootstrap library", "lib", libName, "err", err)
			}
			mustCreateTaskState(rt, adminStateId, "small_message", "small_message", []hqueue.GroupConfig{
				{Prio: hqueue.LowLatency, NumLanes: cfg.QueueManager.MaxLanes, Depth: cfg.QueueManager.DefaultDepth},
			}, logger)
		default:
			logger.Warnw("unknown bootstrap library, skipping", "lib", libName)
		}
	}

	var debugSrv *hadmin.DebugServer
	if *debugAddr != "" {
		debugSrv = hadmin.NewDebugServer(*debugAddr, adminState)
		go func() {
			if err := debugSrv.Serve(); err != nil {
				logger.Errorw("debug server", "err", err)
			}
		}()
	}

	logger.Infow("hrun-runtime started", "node", local, "workers", orch.NumWorkers(), "rpc_port", cfg.RPC.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infow("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	var shutdownErr *multierror.Error
	if debugSrv != nil {
		shutdownErr = multierror.Append(shutdownErr, debugSrv.Close())
	}
	if err := orch.StopRuntime(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}
	if err := transport.Close(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}
	cancel()
	if err := rt.Close(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}
	if err := shutdownErr.ErrorOrNil(); err != nil {
		logger.Errorw("shutdown completed with errors", "err", err)
		os.Exit(1)
	}
}

// mustCreateTaskState dispatches a CreateTaskState admin verb and waits for
// it inline, the same path any admin client uses. The admin
// queue is already being polled by worker 0 by the time this is called.
func mustCreateTaskState(rt *hruntime.Runtime, adminStateId hids.TaskStateId, libName, stateName string, queueInfo []hqueue.GroupConfig, logger *hlog.Logger) hids.TaskStateId {
	node := hids.NewRootTaskNode(rt.MakeTaskNodeId())
	task := hadmin.NewCreateTaskStateTask(node, adminStateId, libName, stateName, hids.NullUniqueId, queueInfo)
	_, ptr, err := hruntime.NewTask(rt, task)
	if err != nil {
		logger.Fatalw("allocate CreateTaskState task", "state", stateName, "err", err)
	}
	if err := rt.Submit(ptr, task); err != nil {
		logger.Fatalw("submit CreateTaskState task", "state", stateName, "err", err)
	}
	task.Hdr().Wait(nil)
	rt.DelTask(ptr)
	if task.Err != "" {
		logger.Fatalw("CreateTaskState failed", "state", stateName, "err", task.Err)
	}
	return task.Ret
}

// mustSetPolicy dispatches SetWorkOrchQueuePolicy/SetWorkOrchProcPolicy,
// waiting inline like mustCreateTaskState.
func mustSetPolicy(rt *hruntime.Runtime, adminStateId, targetId hids.TaskStateId, method int, logger *hlog.Logger) {
	node := hids.NewRootTaskNode(rt.MakeTaskNodeId())
	var task htask.Task
	var errField *string
	switch method {
	case hadmin.MethodSetWorkOrchQueuePolicy:
		t := hadmin.NewSetWorkOrchQueuePolicyTask(node, adminStateId, targetId)
		task, errField = t, &t.Err
	case hadmin.MethodSetWorkOrchProcPolicy:
		t := hadmin.NewSetWorkOrchProcPolicyTask(node, adminStateId, targetId)
		task, errField = t, &t.Err
	default:
		logger.Fatalw("mustSetPolicy: unknown method", "method", method)
		return
	}
	_, ptr, err := hruntime.NewTask(rt, task)
	if err != nil {
		logger.Fatalw("allocate policy task", "err", err)
	}
	if err := rt.Submit(ptr, task); err != nil {
		logger.Fatalw("submit policy task", "err", err)
	}
	task.Hdr().Wait(nil)
	rt.DelTask(ptr)
	if *errField != "" {
		logger.Fatalw("set policy failed", "err", *errField)
	}
}

func parseBoolFlag(s string, fallback bool) bool {
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
