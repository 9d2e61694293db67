package hadmin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/horch"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hruntime"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/states/sched"
)

type stubState struct{}

func (s *stubState) New(int) (htask.Task, error)                              { return nil, nil }
func (s *stubState) Run(context.Context, int, htask.Task, *htask.RunCtx) error { return nil }
func (s *stubState) Del(int, htask.Task)                                      {}
func (s *stubState) SaveStart(int, *htask.Archive, htask.Task) error           { return nil }
func (s *stubState) LoadStart(int, *htask.Archive, htask.Task) error           { return nil }
func (s *stubState) SaveEnd(int, *htask.Archive, htask.Task) error             { return nil }
func (s *stubState) LoadEnd(int, *htask.Archive, htask.Task) error             { return nil }
func (s *stubState) GetGroup(int, htask.Task) htask.GroupKey                  { return htask.GroupKey{Unordered: true} }
func (s *stubState) ReplicateStart(int, int, htask.Task) error                { return nil }
func (s *stubState) ReplicateEnd(int, htask.Task) error                       { return nil }
func (s *stubState) Dup(int, htask.Task) (htask.Task, error)                  { return nil, nil }
func (s *stubState) DupEnd(int, htask.Task, htask.Task) error                 { return nil }

func newTestRuntime(t *testing.T) (*hruntime.Runtime, *horch.Orchestrator) {
	t.Helper()
	reg := hregistry.New(16)
	rt, err := hruntime.New(hids.NodeId(1), "", 1<<20, reg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	orch := horch.New(horch.Config{MaxWorkers: 2, LocalNode: hids.NodeId(1)}, reg, rt.Tasks, hlog.New(hlog.ErrorLevel))
	return rt, orch
}

func testNode() hids.TaskNode {
	return hids.NewRootTaskNode(hids.UniqueId{NodeId: 1, Unique: 1})
}

// TestRegisterTaskLibThenCreateTaskStateIsIdempotentByName exercises
// RegisterTaskLib followed by two CreateTaskState calls with a null id for
// the same name: the second must return the first's id without creating a
// second queue.
func TestRegisterTaskLibThenCreateTaskStateIsIdempotentByName(t *testing.T) {
	rt, orch := newTestRuntime(t)
	admin := New(rt, orch, hlog.New(hlog.ErrorLevel), nil)
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}

	regTask := NewRegisterTaskLibTask(node, adminStateId, "stub", func(string) htask.State { return &stubState{} })
	require.NoError(t, admin.Run(context.Background(), MethodRegisterTaskLib, regTask, nil))
	require.Empty(t, regTask.Err)

	queueInfo := []hqueue.GroupConfig{{Prio: hqueue.LowLatency, NumLanes: 1, Depth: 8}}
	create1 := NewCreateTaskStateTask(node, adminStateId, "stub", "my_state", hids.NullUniqueId, queueInfo)
	require.NoError(t, admin.Run(context.Background(), MethodCreateTaskState, create1, nil))
	require.Empty(t, create1.Err)
	require.False(t, create1.Ret.IsNull())

	create2 := NewCreateTaskStateTask(node, adminStateId, "stub", "my_state", hids.NullUniqueId, queueInfo)
	require.NoError(t, admin.Run(context.Background(), MethodCreateTaskState, create2, nil))
	require.Equal(t, create1.Ret, create2.Ret)

	_, ok := rt.GetQueue(hids.NewQueueId(create1.Ret))
	require.True(t, ok)
}

// TestCreateTaskStateWithGivenId covers the non-null-id clause: a peer
// that already learned the id from node 1 constructs the local state under
// that exact id.
func TestCreateTaskStateWithGivenId(t *testing.T) {
	rt, orch := newTestRuntime(t)
	admin := New(rt, orch, hlog.New(hlog.ErrorLevel), nil)
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}

	require.NoError(t, admin.Run(context.Background(), MethodRegisterTaskLib,
		NewRegisterTaskLibTask(node, adminStateId, "stub", func(string) htask.State { return &stubState{} }), nil))

	given := hids.UniqueId{NodeId: 1, Hash: 7, Unique: 123}
	queueInfo := []hqueue.GroupConfig{{Prio: hqueue.LowLatency, NumLanes: 1, Depth: 8}}
	create := NewCreateTaskStateTask(node, adminStateId, "stub", "replicated_state", given, queueInfo)
	require.NoError(t, admin.Run(context.Background(), MethodCreateTaskState, create, nil))
	require.Equal(t, given, create.Ret)

	_, ok := rt.GetQueue(hids.NewQueueId(given))
	require.True(t, ok)
}

// TestGetTaskStateIdReturnsFalseForUnknownName: an unknown name resolves
// to Found=false, not an error.
func TestGetTaskStateIdReturnsFalseForUnknownName(t *testing.T) {
	rt, orch := newTestRuntime(t)
	admin := New(rt, orch, hlog.New(hlog.ErrorLevel), nil)
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}

	get := NewGetTaskStateIdTask(node, adminStateId, "nope")
	require.NoError(t, admin.Run(context.Background(), MethodGetTaskStateId, get, nil))
	require.False(t, get.Found)
	require.True(t, get.Ret.IsNull())
}

// TestDestroyTaskStateRemovesIt confirms DestroyTaskState is visible
// through a subsequent GetTaskStateId miss.
func TestDestroyTaskStateRemovesIt(t *testing.T) {
	rt, orch := newTestRuntime(t)
	admin := New(rt, orch, hlog.New(hlog.ErrorLevel), nil)
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}

	require.NoError(t, admin.Run(context.Background(), MethodRegisterTaskLib,
		NewRegisterTaskLibTask(node, adminStateId, "stub", func(string) htask.State { return &stubState{} }), nil))
	queueInfo := []hqueue.GroupConfig{{Prio: hqueue.LowLatency, NumLanes: 1, Depth: 8}}
	create := NewCreateTaskStateTask(node, adminStateId, "stub", "short_lived", hids.NullUniqueId, queueInfo)
	require.NoError(t, admin.Run(context.Background(), MethodCreateTaskState, create, nil))

	destroy := NewDestroyTaskStateTask(node, adminStateId, create.Ret)
	require.NoError(t, admin.Run(context.Background(), MethodDestroyTaskState, destroy, nil))
	require.Empty(t, destroy.Err)

	get := NewGetTaskStateIdTask(node, adminStateId, "short_lived")
	require.NoError(t, admin.Run(context.Background(), MethodGetTaskStateId, get, nil))
	require.False(t, get.Found)
}

// TestGetOrCreateTaskStateIdTaskRoutesToNodeOne confirms the constructor
// targets node 1 regardless of the caller's own node: node 1 is the
// naming authority.
func TestGetOrCreateTaskStateIdTaskRoutesToNodeOne(t *testing.T) {
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}
	task := NewGetOrCreateTaskStateIdTask(node, adminStateId, "stub", "shared")
	require.Equal(t, hids.DomainNode, task.Hdr().Domain.Kind)
	require.Equal(t, hids.NodeId(1), task.Hdr().Domain.Node)
}

// TestSetWorkOrchQueuePolicyInstallsAndReplacesScheduler drives the full
// admin → scheduler wiring end to end: CreateTaskState builds the
// queue_sched state and its Admin queue, SetWorkOrchQueuePolicy installs a
// Schedule task onto it, and the installed policy actually runs and
// assigns an unscheduled lane elsewhere in the runtime. Calling the verb a
// second time must replace the first Schedule task rather than leaving
// two resident.
func TestSetWorkOrchQueuePolicyInstallsAndReplacesScheduler(t *testing.T) {
	rt, orch := newTestRuntime(t)
	log := hlog.New(hlog.ErrorLevel)
	admin := New(rt, orch, log, nil)
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}

	require.NoError(t, admin.Run(context.Background(), MethodRegisterTaskLib,
		NewRegisterTaskLibTask(node, adminStateId, "queue_sched", func(string) htask.State { return sched.NewQueueSchedState(orch) }), nil))

	create := NewCreateTaskStateTask(node, adminStateId, "queue_sched", "queue_sched", hids.NullUniqueId,
		[]hqueue.GroupConfig{{Prio: hqueue.Admin, NumLanes: 1, Depth: 8}})
	require.NoError(t, admin.Run(context.Background(), MethodCreateTaskState, create, nil))
	require.Empty(t, create.Err)

	userQueue := hqueue.New(hids.UniqueId{NodeId: 1, Unique: 555}, []hqueue.GroupConfig{{Prio: hqueue.LowLatency, NumLanes: 1, Depth: 8}})
	orch.RegisterQueue(userQueue)

	// Install, then replace, both before the orchestrator starts: only
	// the admin worker's own goroutine may touch the lane once workers
	// are running (installScheduler's doc comment), so the replace path
	// is exercised here with no concurrent poller to race against.
	setPolicy := NewSetWorkOrchQueuePolicyTask(node, adminStateId, create.Ret)
	require.NoError(t, admin.Run(context.Background(), MethodSetWorkOrchQueuePolicy, setPolicy, nil))
	require.Empty(t, setPolicy.Err)

	q, ok := rt.GetQueue(hids.NewQueueId(create.Ret))
	require.True(t, ok)
	require.Equal(t, 1, q.Group(hqueue.Admin).Lane(0).Len())

	setPolicyAgain := NewSetWorkOrchQueuePolicyTask(node, adminStateId, create.Ret)
	require.NoError(t, admin.Run(context.Background(), MethodSetWorkOrchQueuePolicy, setPolicyAgain, nil))
	require.Empty(t, setPolicyAgain.Err)
	require.Equal(t, 1, q.Group(hqueue.Admin).Lane(0).Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	defer orch.StopRuntime()

	require.Eventually(t, func() bool {
		return userQueue.Group(hqueue.LowLatency).IsScheduled(0)
	}, time.Second, time.Millisecond)
}

// TestStopRuntimeClosesTransportAsynchronously confirms the fire-and-forget
// StopRuntime verb tells both the orchestrator and the transport to stop
// without blocking the caller.
func TestStopRuntimeClosesTransportAsynchronously(t *testing.T) {
	rt, orch := newTestRuntime(t)
	closed := make(chan struct{})
	transport := stopperFunc(func() error { close(closed); return nil })
	admin := New(rt, orch, hlog.New(hlog.ErrorLevel), transport)
	node := testNode()
	adminStateId := hids.UniqueId{NodeId: 1, Unique: 99}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)

	stop := NewStopRuntimeTask(node, adminStateId)
	require.True(t, stop.Hdr().Has(htask.FireAndForget))
	require.NoError(t, admin.Run(ctx, MethodStopRuntime, stop, nil))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("transport.Close was never called")
	}
}

type stopperFunc func() error

func (f stopperFunc) Close() error { return f() }
