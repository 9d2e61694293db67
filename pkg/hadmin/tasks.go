package hadmin

import (
	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/htask"
)

func newAdminHeader(node hids.TaskNode, adminState hids.TaskStateId, domain hids.DomainId, method int) htask.Header {
	return *htask.NewHeader(adminState, node, domain, hqueue.Admin, 0, method)
}

// RegisterTaskLibTask registers a compiled-in task library under LibName
// (registry passthrough).
type RegisterTaskLibTask struct {
	htask.Base
	LibName string
	Factory hregistry.LibFactory
	Err     string
}

// NewRegisterTaskLibTask constructs a RegisterTaskLib verb, always local:
// a library only ever exists in the process that compiled it in.
func NewRegisterTaskLibTask(node hids.TaskNode, adminState hids.TaskStateId, libName string, factory hregistry.LibFactory) *RegisterTaskLibTask {
	return &RegisterTaskLibTask{
		Base:    htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodRegisterTaskLib)),
		LibName: libName,
		Factory: factory,
	}
}

// DestroyTaskLibTask unregisters a task library (registry passthrough).
type DestroyTaskLibTask struct {
	htask.Base
	LibName string
	Err     string
}

// NewDestroyTaskLibTask constructs a DestroyTaskLib verb.
func NewDestroyTaskLibTask(node hids.TaskNode, adminState hids.TaskStateId, libName string) *DestroyTaskLibTask {
	return &DestroyTaskLibTask{
		Base:    htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodDestroyTaskLib)),
		LibName: libName,
	}
}

// CreateTaskStateTask instantiates a new task state and its backing
// queue. Id may be hids.NullUniqueId, meaning "allocate one through the
// node-1 naming authority"; QueueInfo is the per-priority lane
// configuration Run passes straight to hqueue.New.
type CreateTaskStateTask struct {
	htask.Base
	LibName   string
	StateName string
	Id        hids.TaskStateId
	QueueInfo []hqueue.GroupConfig
	Ret       hids.TaskStateId
	Err       string
}

// NewCreateTaskStateTask constructs a CreateTaskState verb.
func NewCreateTaskStateTask(node hids.TaskNode, adminState hids.TaskStateId, libName, stateName string, id hids.TaskStateId, queueInfo []hqueue.GroupConfig) *CreateTaskStateTask {
	return &CreateTaskStateTask{
		Base:      htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodCreateTaskState)),
		LibName:   libName,
		StateName: stateName,
		Id:        id,
		QueueInfo: queueInfo,
	}
}

// DestroyTaskStateTask tears down a task state.
type DestroyTaskStateTask struct {
	htask.Base
	Id  hids.TaskStateId
	Err string
}

// NewDestroyTaskStateTask constructs a DestroyTaskState verb.
func NewDestroyTaskStateTask(node hids.TaskNode, adminState, id hids.TaskStateId) *DestroyTaskStateTask {
	return &DestroyTaskStateTask{
		Base: htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodDestroyTaskState)),
		Id:   id,
	}
}

// GetOrCreateTaskStateIdTask is the one admin verb that is genuinely
// cluster-wide: node 1 is the deterministic naming authority for every
// task-state name, so its Domain always targets node 1 regardless of
// where the caller runs.
type GetOrCreateTaskStateIdTask struct {
	htask.Base
	LibName   string
	StateName string
	Ret       hids.TaskStateId
	Err       string
}

// NewGetOrCreateTaskStateIdTask constructs a GetOrCreateTaskStateId verb,
// routed to node 1.
func NewGetOrCreateTaskStateIdTask(node hids.TaskNode, adminState hids.TaskStateId, libName, stateName string) *GetOrCreateTaskStateIdTask {
	return &GetOrCreateTaskStateIdTask{
		Base:      htask.NewBase(newAdminHeader(node, adminState, hids.OfNode(1), MethodGetOrCreateTaskStateId)),
		LibName:   libName,
		StateName: stateName,
	}
}

// GetTaskStateIdTask resolves a task-state name against this node's own
// registry, returning Found=false rather than erroring on a miss.
type GetTaskStateIdTask struct {
	htask.Base
	StateName string
	Ret       hids.TaskStateId
	Found     bool
}

// NewGetTaskStateIdTask constructs a GetTaskStateId verb.
func NewGetTaskStateIdTask(node hids.TaskNode, adminState hids.TaskStateId, stateName string) *GetTaskStateIdTask {
	return &GetTaskStateIdTask{
		Base:      htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodGetTaskStateId)),
		StateName: stateName,
	}
}

// StopRuntimeTask tells the local orchestrator and transport to stop.
// The caller never waits on it; the runtime tears itself down
// asynchronously.
type StopRuntimeTask struct {
	htask.Base
}

// NewStopRuntimeTask constructs a StopRuntime verb.
func NewStopRuntimeTask(node hids.TaskNode, adminState hids.TaskStateId) *StopRuntimeTask {
	h := newAdminHeader(node, adminState, hids.Local(), MethodStopRuntime)
	t := &StopRuntimeTask{Base: htask.NewBase(h)}
	t.Hdr().SetFlag(htask.FireAndForget)
	return t
}

// SetWorkOrchQueuePolicyTask replaces the active queue-scheduling policy
// with a fresh LongRunning Schedule task on Id.
type SetWorkOrchQueuePolicyTask struct {
	htask.Base
	Id  hids.TaskStateId
	Err string
}

// NewSetWorkOrchQueuePolicyTask constructs a SetWorkOrchQueuePolicy verb.
func NewSetWorkOrchQueuePolicyTask(node hids.TaskNode, adminState, id hids.TaskStateId) *SetWorkOrchQueuePolicyTask {
	return &SetWorkOrchQueuePolicyTask{
		Base: htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodSetWorkOrchQueuePolicy)),
		Id:   id,
	}
}

// SetWorkOrchProcPolicyTask replaces the active CPU-affinity policy with a
// fresh LongRunning Schedule task on Id.
type SetWorkOrchProcPolicyTask struct {
	htask.Base
	Id  hids.TaskStateId
	Err string
}

// NewSetWorkOrchProcPolicyTask constructs a SetWorkOrchProcPolicy verb.
func NewSetWorkOrchProcPolicyTask(node hids.TaskNode, adminState, id hids.TaskStateId) *SetWorkOrchProcPolicyTask {
	return &SetWorkOrchProcPolicyTask{
		Base: htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodSetWorkOrchProcPolicy)),
		Id:   id,
	}
}

// FlushTask pushes the flush signal through every worker in the runtime.
type FlushTask struct {
	htask.Base
}

// NewFlushTask constructs a Flush verb.
func NewFlushTask(node hids.TaskNode, adminState hids.TaskStateId) *FlushTask {
	return &FlushTask{Base: htask.NewBase(newAdminHeader(node, adminState, hids.Local(), MethodFlush))}
}
