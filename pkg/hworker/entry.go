// Package hworker implements the worker scheduling loop: each
// worker owns a set of WorkEntry (queue, priority group, lane) triples fed
// to it by the orchestrator, polls them in a fixed order every tick, and
// enforces group-serialization via checkTaskGroup/removeTaskGroup before
// letting a task run.
package hworker

import (
	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlane"
	"github.com/hstor/hrun/pkg/hqueue"
)

// WorkEntry names one lane a worker must poll: which queue it belongs to,
// which priority group, and which lane index within that group.
type WorkEntry struct {
	Queue  *hqueue.Queue
	Prio   hqueue.Priority
	LaneId int

	visits uint64 // ticks since assignment, for the cold-lane poll amortization
}

func (e WorkEntry) group() *hqueue.Group { return e.Queue.Group(e.Prio) }
func (e WorkEntry) lane() *hlane.Lane[hqueue.Handle] {
	return e.group().Lane(e.LaneId)
}

// groupMapKey is the key checkTaskGroup/removeTaskGroup index their
// in-flight-group-depth map by: the task state's own group key plus the
// lane it arrived on, scoping groups per lane per worker.
type groupMapKey struct {
	key    string
	laneId int
}

type groupEntry struct {
	root  hids.TaskId
	depth uint32
}
