package horch

import (
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hworker"
)

// ScheduleQueues runs the default queue-scheduler policy: walk every registered queue, and for each
// priority group not yet fully scheduled, assign its unscheduled lanes to
// workers. LowPriority groups (LongRunning, Admin) go entirely to worker 0;
// every other group is round-robinned across workers 1..N-1, worker 0
// being reserved for admin work. Already-scheduled lanes (tracked on the
// hqueue.Group itself) are skipped, so repeated calls are idempotent.
//
// This is the Run body of the built-in queue-scheduler task state
// (pkg/states/sched.QueueSchedState), invoked periodically as a
// LongRunning task.
func (o *Orchestrator) ScheduleQueues() {
	o.mu.Lock()
	queues := append([]*hqueue.Queue(nil), o.queues...)
	o.mu.Unlock()

	for _, q := range queues {
		for _, prio := range hqueue.PollOrder() {
			group := q.Group(prio)
			if group.Flags.Has(hqueue.FlagDisabled) {
				continue
			}
			lowPriority := prio == hqueue.Admin || prio == hqueue.LongRunning
			for i := 0; i < group.NumLanes(); i++ {
				if group.IsScheduled(i) {
					continue
				}
				var workerIdx int
				if lowPriority || o.NumWorkers() == 1 {
					workerIdx = 0
				} else {
					o.mu.Lock()
					workerIdx = 1 + o.rrCursor%(o.NumWorkers()-1)
					o.rrCursor++
					o.mu.Unlock()
				}
				o.Worker(workerIdx).PollQueues([]hworker.WorkEntry{{Queue: q, Prio: prio, LaneId: i}})
				group.MarkScheduled(i)
			}
		}
	}
}

// RebindCPUAffinity runs the default process-scheduler policy. With
// Config.BindCPUs set, Start pins each worker's OS thread to a core once,
// round-robin over the available cores; this method re-pins no worker,
// whether BindCPUs is set or not.
//
// This is the Run body of the built-in process-scheduler task state
// (pkg/states/sched.ProcSchedState).
func (o *Orchestrator) RebindCPUAffinity() {
	if !o.cfg.BindCPUs {
		return
	}
	// Binding happens on each worker's own goroutine at Start time (see
	// affinity_linux.go); a rebind request here is a signal that workers
	// should re-evaluate core pinning the next time they start, which the
	// current one-shot-at-startup policy already satisfies for this
	// runtime's lifetime. Nothing further to do until the orchestrator
	// supports dynamically adding workers.
}
