// Package hqueue implements the multi-lane priority queue: a named queue
// owning a fixed-size array of priority groups, each owning an array of
// hlane.Lane rings, plus the Resize/Update plug bits that quiesce
// producers during reconfiguration.
package hqueue

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlane"
	"github.com/hstor/hrun/pkg/hshm"
)

// Handle is the (task pointer, complete flag) pair a lane stores.
// Complete is set in place by the worker that ran the task; the lane's
// PeekPtr exposes a pointer into the slot so the worker can flip it
// without a second round trip through the allocator.
type Handle struct {
	Task     hshm.Pointer
	Complete bool
}

// Group is one priority group: a fixed depth shared by all its lanes, a
// flags bitset, and the lane array itself.
type Group struct {
	Flags     GroupFlags
	Depth     int
	lanes     []*hlane.Lane[Handle]
	scheduled []bool // which lane indices the orchestrator has already assigned to a worker
}

// NumLanes returns how many lanes this group owns.
func (g *Group) NumLanes() int { return len(g.lanes) }

// Lane returns the i'th lane of the group.
func (g *Group) Lane(i int) *hlane.Lane[Handle] { return g.lanes[i%len(g.lanes)] }

// MarkScheduled records that lane i has been handed to a worker, so the
// orchestrator's default policy does not double-assign it.
func (g *Group) MarkScheduled(i int) { g.scheduled[i] = true }

// IsScheduled reports whether lane i has already been assigned.
func (g *Group) IsScheduled(i int) bool { return g.scheduled[i] }

// Queue is a named multi-lane priority queue: one per task state. Resize
// and Update are plug bits: Emplace spin-yields while Resize is held, and
// Update is only recorded. No resize mechanism sits behind them.
type Queue struct {
	Id     hids.QueueId
	groups [numPriorities]*Group

	resizing atomic.Bool
	updating atomic.Bool
}

// GroupConfig describes one priority group at queue-creation time.
type GroupConfig struct {
	Prio     Priority
	NumLanes int
	Depth    int
	Flags    GroupFlags
}

// New creates a queue with the given per-priority group configuration.
// Priorities not present in configs get a single disabled 1-lane group so
// Group never has to nil-check.
func New(id hids.QueueId, configs []GroupConfig) *Queue {
	q := &Queue{Id: id}
	byPrio := make(map[Priority]GroupConfig, len(configs))
	for _, c := range configs {
		byPrio[c.Prio] = c
	}
	for _, p := range PollOrder() {
		c, ok := byPrio[p]
		if !ok {
			c = GroupConfig{Prio: p, NumLanes: 1, Depth: 1, Flags: FlagDisabled}
		}
		if c.NumLanes <= 0 {
			c.NumLanes = 1
		}
		lanes := make([]*hlane.Lane[Handle], c.NumLanes)
		for i := range lanes {
			lanes[i] = hlane.NewLane[Handle](c.Depth)
		}
		q.groups[p] = &Group{Flags: c.Flags, Depth: c.Depth, lanes: lanes, scheduled: make([]bool, c.NumLanes)}
	}
	return q
}

// Group returns the priority group for prio.
func (q *Queue) Group(prio Priority) *Group { return q.groups[prio] }

// BeginResize sets the Resize plug bit; producers calling Emplace spin
// until EndResize clears it.
func (q *Queue) BeginResize() { q.resizing.Store(true) }

// EndResize clears the Resize plug bit.
func (q *Queue) EndResize() { q.resizing.Store(false) }

// BeginUpdate sets the Update plug bit (scaffolding only).
func (q *Queue) BeginUpdate() { q.updating.Store(true) }

// EndUpdate clears the Update plug bit.
func (q *Queue) EndUpdate() { q.updating.Store(false) }

func (q *Queue) waitWhileResizing() {
	for q.resizing.Load() {
		runtime.Gosched()
	}
}

// Emplace pushes a task handle onto the queue. The target group is chosen
// by prio; within it the lane is laneHash mod group.NumLanes, unless
// laneAll is set, in which case the handle is fanned out one copy per
// lane in the group.
func (q *Queue) Emplace(prio Priority, laneHash uint32, handles []Handle, laneAll bool) ([]uint64, error) {
	q.waitWhileResizing()
	group := q.groups[prio]
	if group.Flags.Has(FlagDisabled) {
		return nil, fmt.Errorf("hqueue: group %s is disabled on queue %s", prio, q.Id)
	}
	if laneAll {
		if len(handles) != len(group.lanes) {
			return nil, fmt.Errorf("hqueue: lane-all emplace needs %d handles, got %d", len(group.lanes), len(handles))
		}
		toks := make([]uint64, len(group.lanes))
		for i, lane := range group.lanes {
			toks[i] = lane.Emplace(handles[i])
		}
		return toks, nil
	}
	if len(handles) != 1 {
		return nil, fmt.Errorf("hqueue: non-lane-all emplace needs exactly 1 handle, got %d", len(handles))
	}
	idx := int(laneHash) % len(group.lanes)
	tok := group.lanes[idx].Emplace(handles[0])
	return []uint64{tok}, nil
}

// EmplaceFrac is the self-deadlock-avoiding variant the runtime's own
// schedulers use: it refuses to push if the chosen lane is already more
// than half full, returning an error instead of spinning.
func (q *Queue) EmplaceFrac(prio Priority, laneHash uint32, handle Handle) (uint64, error) {
	q.waitWhileResizing()
	group := q.groups[prio]
	if group.Flags.Has(FlagDisabled) {
		return 0, fmt.Errorf("hqueue: group %s is disabled on queue %s", prio, q.Id)
	}
	idx := int(laneHash) % len(group.lanes)
	lane := group.lanes[idx]
	if lane.Fraction() > 0.5 {
		return 0, fmt.Errorf("hqueue: lane %d of group %s on queue %s is over half full", idx, prio, q.Id)
	}
	return lane.Emplace(handle), nil
}
