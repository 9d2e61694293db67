// Package htask implements the base Task type and the TaskState
// capability interface. Every concrete task type embeds Header to get the
// lifecycle surface (Wait, Yield, SetComplete, IsComplete, ShouldRun,
// DidRun, GetGroup) for free; task states interpret the task-specific
// fields that follow the embedded Header by type-asserting back to their
// own concrete type.
package htask

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hqueue"
)

// RunCtx carries the per-dispatch state a worker hands a task: which lane
// it came off of, what execution mode it's running under, and the yield
// closure appropriate to that mode.
type RunCtx struct {
	WorkerId int
	LaneId   int
	Mode     ExecMode
	Yield    YieldFunc
}

// Header is the fixed, POD-layout header every task carries. It is never
// copied once installed in shared memory; all access goes through pointer
// receivers.
type Header struct {
	TaskState hids.TaskStateId
	TaskNode  hids.TaskNode
	Domain    hids.DomainId
	Prio      hqueue.Priority
	LaneHash  uint32
	Method    int
	PeriodNs  time.Duration

	// flags is accessed through the atomic helpers below; it stays a bare
	// uint32 so a quiescent header can still be copied at construction
	// time (NewBase, Dup).
	flags   uint32
	lastRun time.Time

	Ctx RunCtx
}

// NewHeader builds a Header for a fresh task.
func NewHeader(state hids.TaskStateId, node hids.TaskNode, domain hids.DomainId, prio hqueue.Priority, laneHash uint32, method int) *Header {
	return &Header{
		TaskState: state,
		TaskNode:  node,
		Domain:    domain,
		Prio:      prio,
		LaneHash:  laneHash,
		Method:    method,
	}
}

// SetFlag sets every bit in f.
func (h *Header) SetFlag(f Flags) { atomic.OrUint32(&h.flags, uint32(f)) }

// ClearFlag clears every bit in f.
func (h *Header) ClearFlag(f Flags) { atomic.AndUint32(&h.flags, ^uint32(f)) }

// Flags returns the current flag bitset.
func (h *Header) Flags() Flags { return Flags(atomic.LoadUint32(&h.flags)) }

// Has reports whether every bit of mask is currently set.
func (h *Header) Has(mask Flags) bool { return h.Flags().Has(mask) }

// SetComplete marks the task Complete; observers may reclaim it.
func (h *Header) SetComplete() { h.SetFlag(Complete) }

// IsComplete reports whether the Complete bit is set.
func (h *Header) IsComplete() bool { return h.Has(Complete) }

// Wait blocks until h's task reaches Complete; this is how a parent task
// waits on a child it spawned. yield is the caller's
// own suspension mechanism, not h's: a parent task passes its own RunCtx's
// Yield so waiting suspends the parent cooperatively instead of busy
// spinning its worker; a caller outside any task context (a client
// blocking synchronously on a root task) passes nil and gets a plain
// runtime.Gosched spin.
func (h *Header) Wait(yield YieldFunc) {
	for !h.IsComplete() {
		if yield != nil {
			yield()
		} else {
			runtime.Gosched()
		}
	}
}

// Yield suspends the current Run call via whatever execution mode the
// worker dispatched this task under. A task with a nil Yield (never
// dispatched, or dispatched Plain with no yield support) must not call it.
func (h *Header) Yield() {
	if h.Ctx.Yield != nil {
		h.Ctx.Yield()
	}
}

// ShouldRun reports whether the worker should invoke Run again this tick.
// Non-long-running tasks always run; long-running tasks run once per
// PeriodNs, or immediately if flushing (graceful shutdown drain).
func (h *Header) ShouldRun(now time.Time, flushing bool) bool {
	if !h.Has(LongRunning) {
		return true
	}
	if flushing {
		return true
	}
	return now.Sub(h.lastRun) >= h.PeriodNs
}

// DidRun records the time of the most recent Run invocation, for
// ShouldRun's period check.
func (h *Header) DidRun(now time.Time) { h.lastRun = now }

// GroupKey is the (ordering-relevant, opaque) group identity a task
// belongs to, returned by GetGroup. Unordered is true for tasks exempt
// from group-serialization.
type GroupKey struct {
	Unordered bool
	Key       []byte
}

// GetGroup is the base implementation: every task is unordered by default.
// Concrete task types override this (by not embedding it — they implement
// their own GetGroup method, which shadows this one through the Task
// interface) when they need group-serialized execution, e.g. two tasks
// touching the same shared-memory bucket.
func (h *Header) GetGroup() GroupKey { return GroupKey{Unordered: true} }
