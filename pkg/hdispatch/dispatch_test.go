package hdispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hruntime"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/hworker"
	"github.com/hstor/hrun/pkg/states/smallmessage"
)

// loopbackTransport wires PushSmall/PushBulk straight to a Dispatcher's own
// Ingress, standing in for pkg/htransport in tests that don't need a real
// network (the two nodes are the same process, which is exactly the
// DomainLocal case a real deployment never routes through hdispatch for —
// this is purely a test fixture).
type loopbackTransport struct {
	ingress *Dispatcher
}

func (lb *loopbackTransport) PushSmall(ctx context.Context, node hids.NodeId, state hids.TaskStateId, method int, params []byte) ([]byte, error) {
	reply, _, err := lb.ingress.Ingress(ctx, state, method, params, nil, 0)
	return reply, err
}

func (lb *loopbackTransport) PushBulk(ctx context.Context, node hids.NodeId, state hids.TaskStateId, method int, params, bulk []byte, dir htask.TransferDir) ([]byte, []byte, error) {
	return lb.ingress.Ingress(ctx, state, method, params, bulk, dir)
}

func newTestRuntime(t *testing.T) (*hruntime.Runtime, hids.TaskStateId) {
	t.Helper()
	reg := hregistry.New(8)
	require.NoError(t, reg.RegisterLib("small_message", func(name string) htask.State { return smallmessage.New(name) }))

	rt, err := hruntime.New(hids.NodeId(1), "", 1<<20, reg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	stateId, err := reg.CreateTaskState(hids.NodeId(1), "small_message", "disp-test")
	require.NoError(t, err)

	q := hqueue.New(hids.NewQueueId(stateId), []hqueue.GroupConfig{
		{Prio: hqueue.LowLatency, NumLanes: 1, Depth: 8},
	})
	rt.RegisterQueue(q)

	w := hworker.New(0, hids.NodeId(1), reg, rt.Tasks, hlog.New(hlog.InfoLevel))
	w.PollQueues([]hworker.WorkEntry{{Queue: q, Prio: hqueue.LowLatency, LaneId: 0}})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)

	return rt, stateId
}

func TestIngressRunsTaskAndRepliesWithResult(t *testing.T) {
	rt, stateId := newTestRuntime(t)
	reg := rt.Registry

	d := New(hids.NodeId(1), 4, reg, rt, nil, hlog.New(hlog.InfoLevel))

	save := htask.NewSaveArchive()
	require.NoError(t, save.Put(smallmessage.MethodMd))

	replyParams, replyBulk, err := d.Ingress(context.Background(), stateId, smallmessage.MethodMd, save.Bytes(), nil, 0)
	require.NoError(t, err)
	require.Nil(t, replyBulk)

	load := htask.NewLoadArchive(replyParams, nil)
	var ret []int
	require.NoError(t, load.Get(&ret))
	require.Equal(t, []int{1}, ret)
}

func TestEgressRoundTripsThroughLoopbackTransport(t *testing.T) {
	rt, stateId := newTestRuntime(t)
	reg := rt.Registry

	d := New(hids.NodeId(1), 4, reg, rt, nil, hlog.New(hlog.InfoLevel))
	d.Transport = &loopbackTransport{ingress: d}

	state, ok := reg.GetTaskState(stateId)
	require.True(t, ok)

	task := smallmessage.NewMdTask(hids.TaskNode{}, hids.OfNode(2), stateId)
	task.Hdr().SetFlag(htask.DisableRun | htask.Unordered)
	task.Hdr().ClearFlag(htask.Coroutine)

	err := d.Egress(context.Background(), task, state, []hids.NodeId{2})
	require.NoError(t, err)
	require.True(t, task.Hdr().Has(htask.ModuleComplete))
	require.Equal(t, []int{1}, task.Ret)
}

func TestEgressBulkIoRoundTrip(t *testing.T) {
	rt, stateId := newTestRuntime(t)
	reg := rt.Registry

	d := New(hids.NodeId(1), 4, reg, rt, nil, hlog.New(hlog.InfoLevel))
	d.Transport = &loopbackTransport{ingress: d}

	state, ok := reg.GetTaskState(stateId)
	require.True(t, ok)

	task := smallmessage.NewIoTask(hids.TaskNode{}, hids.OfNode(2), stateId)

	err := d.Egress(context.Background(), task, state, []hids.NodeId{2})
	require.NoError(t, err)
	require.Equal(t, 1, task.Ret)
}

// TestEgressBulkReadFillsClientBuffer drives the receiver-write
// direction: the submitter's buffer starts zeroed, the peer's Run fills
// its copy, and the reply lands the filled bytes back in the submitter's
// buffer.
func TestEgressBulkReadFillsClientBuffer(t *testing.T) {
	rt, stateId := newTestRuntime(t)
	reg := rt.Registry

	d := New(hids.NodeId(1), 4, reg, rt, nil, hlog.New(hlog.InfoLevel))
	d.Transport = &loopbackTransport{ingress: d}

	state, ok := reg.GetTaskState(stateId)
	require.True(t, ok)

	task := smallmessage.NewIoReadTask(hids.TaskNode{}, hids.OfNode(2), stateId)
	require.Equal(t, byte(0), task.Data[0])

	err := d.Egress(context.Background(), task, state, []hids.NodeId{2})
	require.NoError(t, err)
	require.Equal(t, 1, task.Ret)
	for i := range task.Data {
		require.Equalf(t, byte(smallmessage.IoFillByte), task.Data[i], "byte %d", i)
	}
}

func TestIngressUnknownStateReturnsEmptyReply(t *testing.T) {
	rt, _ := newTestRuntime(t)
	d := New(hids.NodeId(1), 4, rt.Registry, rt, nil, hlog.New(hlog.InfoLevel))

	reply, bulk, err := d.Ingress(context.Background(), hids.UniqueId{NodeId: 9, Unique: 9}, 0, nil, nil, 0)
	require.NoError(t, err)
	require.Nil(t, reply)
	require.Nil(t, bulk)
}

func TestResolveDomain(t *testing.T) {
	local := hids.NodeId(1)
	require.Equal(t, []hids.NodeId{1}, ResolveDomain(hids.Local(), local, 4))
	require.Equal(t, []hids.NodeId{3}, ResolveDomain(hids.OfNode(3), local, 4))
	require.ElementsMatch(t, []hids.NodeId{1, 2, 3, 4}, ResolveDomain(hids.Global(true), local, 4))
	require.ElementsMatch(t, []hids.NodeId{2, 3}, ResolveDomain(hids.OfNodeSet([]hids.NodeId{2, 3}, false), local, 4))
}
