package hworker

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hshm"
	"github.com/hstor/hrun/pkg/htask"
)

// Dispatcher is the capability a worker needs to hand a remote task off.
// The concrete implementation is pkg/hdispatch.Dispatcher; it's named
// here as a narrow interface so hworker doesn't need to import
// hdispatch's transport and runtime-façade dependencies.
type Dispatcher interface {
	Egress(ctx context.Context, task htask.Task, state htask.State, targets []hids.NodeId) error
	ResolveDomain(domain hids.DomainId) []hids.NodeId
}

// Worker runs one cooperatively-scheduled dispatch loop over a set of
// lanes the orchestrator has assigned it. Exactly
// one worker ever polls a given lane at a time.
type Worker struct {
	Id      int
	LocalId hids.NodeId

	registry   *hregistry.Registry
	tasks      *htask.Table
	log        *hlog.Logger
	dispatcher Dispatcher

	workQueue []WorkEntry

	pollQueues       chan []WorkEntry
	relinquishQueues chan []WorkEntry

	sleep             time.Duration
	continuousPolling bool
	flushing          atomic.Bool

	groupMu  sync.Mutex
	groupMap map[groupMapKey]*groupEntry

	coro *coroTable

	stop chan struct{}
	done chan struct{}
}

// New creates a worker. It does not start polling until Run is called.
func New(id int, localId hids.NodeId, registry *hregistry.Registry, tasks *htask.Table, log *hlog.Logger) *Worker {
	return &Worker{
		Id:                id,
		LocalId:           localId,
		registry:          registry,
		tasks:             tasks,
		log:               log,
		pollQueues:        make(chan []WorkEntry, 1024),
		relinquishQueues:  make(chan []WorkEntry, 1024),
		continuousPolling: true,
		groupMap:          make(map[groupMapKey]*groupEntry),
		coro:              newCoroTable(),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// PollQueues tells the worker to start polling the given lanes, handed
// off through an SPSC channel drained at the top of each tick.
func (w *Worker) PollQueues(entries []WorkEntry) {
	w.pollQueues <- entries
}

// RelinquishQueues tells the worker to stop polling the given lanes.
func (w *Worker) RelinquishQueues(entries []WorkEntry) {
	w.relinquishQueues <- entries
}

// SetDispatcher installs the remote dispatcher a worker hands off-node
// tasks to. A worker with no dispatcher configured drops remote tasks
// instead of running them, logging the condition (single-node deployments
// never need to call this).
func (w *Worker) SetDispatcher(d Dispatcher) { w.dispatcher = d }

// SetPollingFrequency switches the worker from continuous spinning to a
// sleep-between-ticks policy.
func (w *Worker) SetPollingFrequency(sleep time.Duration) {
	w.sleep = sleep
	w.continuousPolling = false
}

// EnableContinuousPolling makes the worker spin with no sleep between
// ticks (the default, for low-latency lanes).
func (w *Worker) EnableContinuousPolling() { w.continuousPolling = true }

// Flush puts the worker into drain mode: long-running tasks run
// immediately regardless of their period.
func (w *Worker) Flush(on bool) { w.flushing.Store(on) }

// Stop signals the loop to exit after its current tick and blocks until it
// has.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// Run is the worker's main loop. It returns
// when ctx is canceled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		default:
		}

		w.mergePollQueues()
		w.mergeRelinquishQueues()

		didWork := false
		now := time.Now()
		for i := range w.workQueue {
			if w.pollEntry(ctx, &w.workQueue[i], now) {
				didWork = true
			}
		}

		if !didWork && !w.continuousPolling {
			if w.sleep > 0 {
				time.Sleep(w.sleep)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func (w *Worker) mergePollQueues() {
	merged := false
	for {
		select {
		case entries := <-w.pollQueues:
			w.workQueue = append(w.workQueue, entries...)
			merged = true
		default:
			if merged {
				// Keep groups in scheduling-precedence order so each tick
				// visits Admin lanes before LongRunning before LowLatency.
				sort.SliceStable(w.workQueue, func(i, j int) bool {
					return w.workQueue[i].Prio < w.workQueue[j].Prio
				})
			}
			return
		}
	}
}

func (w *Worker) mergeRelinquishQueues() {
	for {
		select {
		case entries := <-w.relinquishQueues:
			for _, e := range entries {
				w.workQueue = removeEntry(w.workQueue, e)
			}
		default:
			return
		}
	}
}

func removeEntry(entries []WorkEntry, target WorkEntry) []WorkEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Queue == target.Queue && e.Prio == target.Prio && e.LaneId == target.LaneId {
			continue
		}
		out = append(out, e)
	}
	return out
}

const (
	// laneVisitPeriod amortizes the cost of polling lanes that rarely have
	// work: non-low-latency lanes are only serviced once per this many
	// ticks.
	laneVisitPeriod = 4096
	// pollBatch bounds how many slots one lane visit may service, so one
	// busy lane cannot starve the rest of the worker's assignment.
	pollBatch = 1024
)

// pollEntry services one lane, amortizing non-low-latency lanes to one
// real visit per laneVisitPeriod ticks.
func (w *Worker) pollEntry(ctx context.Context, entry *WorkEntry, now time.Time) bool {
	if entry.Prio != hqueue.LowLatency {
		entry.visits++
		if entry.visits%laneVisitPeriod != 0 {
			return false
		}
	}
	return w.pollGrouped(ctx, *entry, now)
}

// pollGrouped walks one lane in FIFO peek order: retired slots are popped
// once they reach the head, live slots are dispatched, and slots held by
// a suspended coroutine or a periodic task waiting out its interval are
// stepped over rather than blocking the slots behind them.
func (w *Worker) pollGrouped(ctx context.Context, entry WorkEntry, now time.Time) bool {
	lane := entry.lane()
	didWork := false
	off := 0
	for i := 0; i < pollBatch; i++ {
		handlePtr, ok := lane.PeekPtr(off)
		if !ok {
			break
		}
		if handlePtr.Complete {
			if off == 0 {
				lane.Pop()
			} else {
				off++
			}
			continue
		}

		task, ok := w.tasks.Get(handlePtr.Task)
		if !ok {
			w.log.Errorw("worker: unresolved task handle, dropping", "worker", w.Id, "ptr", handlePtr.Task)
			handlePtr.Complete = true
			continue
		}
		hdr := task.Hdr()

		state, ok := w.registry.GetTaskState(hdr.TaskState)
		if !ok {
			w.log.Errorw("worker: unknown task state, dropping task", "worker", w.Id, "state", hdr.TaskState)
			handlePtr.Complete = true
			w.tasks.Delete(handlePtr.Task)
			continue
		}

		isRemote := !hdr.Domain.IsLocalOnly(w.LocalId)
		if !hdr.ShouldRun(now, w.flushing.Load()) {
			off++
			continue
		}
		if !w.checkTaskGroup(task, state, entry.LaneId, isRemote) {
			off++
			continue
		}

		w.dispatch(ctx, entry, handlePtr, task, state, isRemote)
		didWork = true
		off++
	}
	return didWork
}

// dispatch runs one task according to its ExecMode. Plain tasks run to
// completion inline; coroutine tasks are resumed via a parked goroutine;
// preemptive tasks are detached entirely.
func (w *Worker) dispatch(ctx context.Context, entry WorkEntry, handlePtr *hqueue.Handle, task htask.Task, state htask.State, isRemote bool) {
	hdr := task.Hdr()
	method := hdr.Method

	ptr := handlePtr.Task

	switch {
	case isRemote && !hdr.Has(htask.DisableRun):
		w.dispatchRemote(ctx, entry, handlePtr, task, state)
	case hdr.Has(htask.Coroutine):
		w.runCoroutine(ctx, entry, handlePtr, task, state, isRemote, method)
	case !hdr.Has(htask.HasStarted) && w.wantsPreemptive(task):
		hdr.SetFlag(htask.HasStarted | htask.DisableRun)
		go func() {
			rc := &htask.RunCtx{WorkerId: w.Id, LaneId: entry.LaneId, Mode: htask.ModePreemptive}
			hdr.Ctx = *rc
			if err := state.Run(ctx, method, task, rc); err != nil {
				w.log.Errorw("preemptive task failed", "err", err)
			}
			w.finishTask(state, task, ptr)
		}()
		w.retireSlot(entry, handlePtr, task, state, isRemote)
	default:
		hdr.SetFlag(htask.HasStarted)
		rc := &htask.RunCtx{WorkerId: w.Id, LaneId: entry.LaneId, Mode: htask.ModePlain}
		hdr.Ctx = *rc
		if err := state.Run(ctx, method, task, rc); err != nil {
			w.log.Errorw("task failed", "err", err, "worker", w.Id)
		}
		hdr.DidRun(time.Now())

		done := hdr.Has(htask.Complete) || hdr.Has(htask.ModuleComplete)
		if hdr.Has(htask.LongRunning) && !done {
			// Periodic task: leave its slot live so the next visit's
			// ShouldRun period check can fire it again, instead of
			// discarding it after a single run.
			w.removeTaskGroup(task, state, entry.LaneId, isRemote)
			return
		}

		w.retireSlot(entry, handlePtr, task, state, isRemote)
		if done {
			w.finishTask(state, task, ptr)
		}
	}
}

// dispatchRemote hands task to the remote dispatcher. Egress is an RPC
// round trip, so it runs on its own goroutine rather than blocking this
// worker's tick; the lane slot is retired immediately since ownership has
// transferred to the dispatcher.
func (w *Worker) dispatchRemote(ctx context.Context, entry WorkEntry, handlePtr *hqueue.Handle, task htask.Task, state htask.State) {
	hdr := task.Hdr()
	ptr := handlePtr.Task
	hdr.SetFlag(htask.DisableRun | htask.Unordered)
	hdr.ClearFlag(htask.Coroutine)

	if w.dispatcher == nil {
		w.log.Errorw("worker: remote task with no dispatcher configured, dropping", "worker", w.Id, "state", hdr.TaskState)
		w.retireSlot(entry, handlePtr, task, state, true)
		w.finishTask(state, task, ptr)
		return
	}

	targets := w.dispatcher.ResolveDomain(hdr.Domain)
	w.retireSlot(entry, handlePtr, task, state, true)
	go func() {
		if err := w.dispatcher.Egress(ctx, task, state, targets); err != nil {
			w.log.Errorw("worker: remote dispatch failed", "worker", w.Id, "state", hdr.TaskState, "err", err)
		}
		w.finishTask(state, task, ptr)
	}()
}

// wantsPreemptive is a placeholder hook: no built-in task state in this
// tree requests preemptive execution yet, so this always returns false.
// It exists so a future task state can opt in without changing the
// dispatch switch above.
func (w *Worker) wantsPreemptive(task htask.Task) bool { return false }

// retireSlot marks the lane slot consumed in place and releases the
// group-serialization slot the task held. The head-reclaim pass in
// pollGrouped pops retired slots once they reach the front of the lane,
// so retiring a mid-lane slot never reorders the slots behind it.
func (w *Worker) retireSlot(entry WorkEntry, handlePtr *hqueue.Handle, task htask.Task, state htask.State, isRemote bool) {
	handlePtr.Complete = true
	w.removeTaskGroup(task, state, entry.LaneId, isRemote)
}

// finishTask runs the terminal step of the lifecycle: fire-and-forget
// tasks are reclaimed immediately, including their handle-table entry
// (no submitter will ever observe them); everything else is marked
// Complete for a waiter to observe and reclaim.
func (w *Worker) finishTask(state htask.State, task htask.Task, ptr hshm.Pointer) {
	hdr := task.Hdr()
	if hdr.Has(htask.FireAndForget) {
		state.Del(hdr.Method, task)
		w.tasks.Delete(ptr)
	} else {
		hdr.SetComplete()
	}
}
