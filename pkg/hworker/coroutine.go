package hworker

import (
	"context"
	"sync"
	"time"

	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hshm"
	"github.com/hstor/hrun/pkg/htask"
)

// coroState is the parked state of one coroutine task: a goroutine
// blocked inside state.Run, suspended on yieldCh/resumeCh instead of a
// real stack switch. A goroutine plus a blocking channel handoff gives
// the same suspend/resume contract a stack swap would, without a fiber
// library.
type coroState struct {
	resume chan struct{}
	yield  chan struct{}
	done   chan error
}

type coroTable struct {
	mu sync.Mutex
	m  map[hshm.Pointer]*coroState
}

func newCoroTable() *coroTable {
	return &coroTable{m: make(map[hshm.Pointer]*coroState)}
}

// runCoroutine advances a coroutine task by exactly one suspend/resume
// cycle, blocking this worker until the task yields again or returns,
// so the worker never runs two tasks at once.
func (w *Worker) runCoroutine(ctx context.Context, entry WorkEntry, handlePtr *hqueue.Handle, task htask.Task, state htask.State, isRemote bool, method int) {
	hdr := task.Hdr()
	ptr := handlePtr.Task

	w.coro.mu.Lock()
	cs, started := w.coro.m[ptr]
	if !started {
		cs = &coroState{resume: make(chan struct{}), yield: make(chan struct{}), done: make(chan error, 1)}
		w.coro.m[ptr] = cs
		hdr.SetFlag(htask.HasStarted)
		rc := &htask.RunCtx{WorkerId: w.Id, LaneId: entry.LaneId, Mode: htask.ModeCoroutine}
		rc.Yield = func() {
			cs.yield <- struct{}{}
			<-cs.resume
		}
		hdr.Ctx = *rc
		go func() {
			cs.done <- state.Run(ctx, method, task, rc)
		}()
	}
	w.coro.mu.Unlock()

	if started {
		cs.resume <- struct{}{}
	}

	select {
	case <-cs.yield:
		// Still suspended; leave the handle at the head of the lane for
		// the next tick to resume it.
		return
	case err := <-cs.done:
		if err != nil {
			w.log.Errorw("coroutine task failed", "err", err, "worker", w.Id)
		}
		hdr.ClearFlag(htask.Coroutine | htask.HasStarted)
		hdr.DidRun(time.Now())
		w.coro.mu.Lock()
		delete(w.coro.m, ptr)
		w.coro.mu.Unlock()
		w.retireSlot(entry, handlePtr, task, state, isRemote)
		if hdr.Has(htask.Complete) || hdr.Has(htask.ModuleComplete) {
			w.finishTask(state, task, ptr)
		}
	}
}
