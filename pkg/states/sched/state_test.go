package sched

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
	"github.com/hstor/hrun/pkg/hshm"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/hworker"
)

// TestQueueSchedStateAssignsUnscheduledLanes exercises the default
// queue-scheduling policy end to end: a running
// QueueSchedState's periodic task must eventually assign an unscheduled
// lane on an otherwise-unrelated queue to a worker.
func TestQueueSchedStateAssignsUnscheduledLanes(t *testing.T) {
	reg := hregistry.New(8)
	tasks := htask.NewTable()
	log := hlog.New(hlog.ErrorLevel)

	orch := horch.New(horch.Config{MaxWorkers: 2, LocalNode: hids.NodeId(1)}, reg, tasks, log)

	require.NoError(t, reg.RegisterLib("queue_sched", func(string) htask.State { return NewQueueSchedState(orch) }))
	schedStateId, err := reg.CreateTaskState(hids.NodeId(1), "queue_sched", "queue_sched")
	require.NoError(t, err)

	adminQueue := hqueue.New(hids.NewQueueId(schedStateId), []hqueue.GroupConfig{
		{Prio: hqueue.Admin, NumLanes: 1, Depth: 8},
	})
	orch.RegisterQueue(adminQueue)

	userStateId := hids.UniqueId{NodeId: 1, Unique: 99}
	userQueue := hqueue.New(hids.NewQueueId(userStateId), []hqueue.GroupConfig{
		{Prio: hqueue.LowLatency, NumLanes: 1, Depth: 8},
	})
	orch.RegisterQueue(userQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	defer orch.StopRuntime()

	task := NewScheduleTask(hids.NewRootTaskNode(hids.UniqueId{NodeId: 1, Unique: 1}), schedStateId, time.Millisecond)
	ptr := hshm.Pointer{Offset: 1}
	tasks.Put(ptr, task)
	_, err = adminQueue.Emplace(hqueue.Admin, 0, []hqueue.Handle{{Task: ptr}}, false)
	require.NoError(t, err)

	orch.AdminWorker().PollQueues([]hworker.WorkEntry{{Queue: adminQueue, Prio: hqueue.Admin, LaneId: 0}})

	require.Eventually(t, func() bool {
		return userQueue.Group(hqueue.LowLatency).IsScheduled(0)
	}, time.Second, time.Millisecond)
}

// TestProcSchedStateRunsWithoutError confirms the process-scheduler state's
// Run body is callable as a LongRunning task and never marks itself
// complete (it must keep re-running every period for the runtime's life).
func TestProcSchedStateRunsWithoutError(t *testing.T) {
	reg := hregistry.New(8)
	tasks := htask.NewTable()
	log := hlog.New(hlog.ErrorLevel)

	orch := horch.New(horch.Config{MaxWorkers: 1, LocalNode: hids.NodeId(1)}, reg, tasks, log)

	require.NoError(t, reg.RegisterLib("proc_sched", func(string) htask.State { return NewProcSchedState(orch) }))
	schedStateId, err := reg.CreateTaskState(hids.NodeId(1), "proc_sched", "proc_sched")
	require.NoError(t, err)

	adminQueue := hqueue.New(hids.NewQueueId(schedStateId), []hqueue.GroupConfig{
		{Prio: hqueue.Admin, NumLanes: 1, Depth: 8},
	})
	orch.RegisterQueue(adminQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	defer orch.StopRuntime()

	task := NewScheduleTask(hids.NewRootTaskNode(hids.UniqueId{NodeId: 1, Unique: 2}), schedStateId, time.Millisecond)
	ptr := hshm.Pointer{Offset: 2}
	tasks.Put(ptr, task)
	_, err = adminQueue.Emplace(hqueue.Admin, 0, []hqueue.Handle{{Task: ptr}}, false)
	require.NoError(t, err)

	orch.AdminWorker().PollQueues([]hworker.WorkEntry{{Queue: adminQueue, Prio: hqueue.Admin, LaneId: 0}})

	time.Sleep(20 * time.Millisecond)
	require.False(t, task.Hdr().IsComplete())
}
