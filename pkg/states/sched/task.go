package sched

import (
	"time"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/htask"
)

// ScheduleTask is the long-running task both scheduler states run: it
// carries no payload beyond the header, since ScheduleQueues/
// RebindCPUAffinity take their input from the orchestrator's own state, not
// from the task.
type ScheduleTask struct {
	htask.Base
}

// NewScheduleTask constructs a long-running schedule task for stateId,
// dispatched locally every period on the Admin priority (it is itself part
// of the scheduling machinery, so it must not wait behind the groups it's
// assigning).
func NewScheduleTask(node hids.TaskNode, stateId hids.TaskStateId, period time.Duration) *ScheduleTask {
	h := htask.NewHeader(stateId, node, hids.Local(), hqueue.Admin, 0, MethodSchedule)
	h.PeriodNs = period
	h.SetFlag(htask.LongRunning | htask.Unordered)
	return &ScheduleTask{Base: htask.NewBase(*h)}
}
