package horch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hshm"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/states/smallmessage"
)

func setupOrch(t *testing.T, numWorkers int) (*Orchestrator, *hqueue.Queue, *htask.Table, hids.TaskStateId) {
	reg := hregistry.New(16)
	require.NoError(t, reg.RegisterLib("small_message", func(name string) htask.State {
		return smallmessage.New(name)
	}))
	stateId, err := reg.CreateTaskState(hids.NodeId(1), "small_message", "small_message")
	require.NoError(t, err)

	q := hqueue.New(hids.NewQueueId(stateId), []hqueue.GroupConfig{
		{Prio: hqueue.Admin, NumLanes: 1, Depth: 8},
		{Prio: hqueue.LowLatency, NumLanes: 4, Depth: 32},
	})

	tasks := htask.NewTable()
	log := hlog.New(hlog.ErrorLevel)
	o := New(Config{MaxWorkers: numWorkers, LocalNode: 1}, reg, tasks, log)
	o.RegisterQueue(q)
	return o, q, tasks, stateId
}

// The default policy marks the Admin lane scheduled (handing it to worker
// 0, which this test does not observe).
func TestScheduleQueuesSchedulesAdminLane(t *testing.T) {
	o, q, _, _ := setupOrch(t, 3)
	o.ScheduleQueues()
	require.True(t, q.Group(hqueue.Admin).IsScheduled(0))
}

// TestScheduleQueuesIsIdempotent verifies a second call does not
// re-assign already-scheduled lanes.
func TestScheduleQueuesIsIdempotent(t *testing.T) {
	o, q, _, _ := setupOrch(t, 3)
	o.ScheduleQueues()
	cursorAfterFirst := o.rrCursor
	o.ScheduleQueues()
	require.Equal(t, cursorAfterFirst, o.rrCursor)
	for i := 0; i < q.Group(hqueue.LowLatency).NumLanes(); i++ {
		require.True(t, q.Group(hqueue.LowLatency).IsScheduled(i))
	}
}

// An Md task driven through the full orchestrator: scheduling assigns
// the lane to a worker, Start runs it, and the task completes.
func TestOrchestratorRunsTaskEndToEnd(t *testing.T) {
	o, q, tasks, stateId := setupOrch(t, 2)
	o.ScheduleQueues()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.StopRuntime()

	node := hids.NewRootTaskNode(hids.UniqueId{NodeId: 1, Unique: 1})
	task := smallmessage.NewMdTask(node, hids.Local(), stateId)
	task.ReplicateStart(1)

	ptr := hshm.Pointer{Offset: 1}
	tasks.Put(ptr, task)
	_, err := q.Emplace(hqueue.Admin, 0, []hqueue.Handle{{Task: ptr}}, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return task.Hdr().IsComplete()
	}, time.Second, time.Millisecond)
}
