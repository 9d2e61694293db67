package hworker

import (
	"github.com/hstor/hrun/pkg/htask"
)

// checkTaskGroup decides whether task may run this tick: remote tasks,
// already-started tasks (a coroutine being resumed), and lane-all
// fan-out copies always run.
// Everything else consults the task's group key; unordered tasks always
// run, and grouped tasks only run if no other in-flight task on this
// lane's group has a different root task.
func (w *Worker) checkTaskGroup(task htask.Task, state htask.State, laneId int, isRemote bool) bool {
	hdr := task.Hdr()
	if isRemote || hdr.Has(htask.HasStarted) || hdr.Has(htask.LaneAll) {
		return true
	}

	group := state.GetGroup(hdr.Method, task)
	if group.Unordered {
		return true
	}

	key := groupMapKey{key: string(group.Key), laneId: laneId}

	w.groupMu.Lock()
	defer w.groupMu.Unlock()

	existing, ok := w.groupMap[key]
	if !ok {
		w.groupMap[key] = &groupEntry{root: hdr.TaskNode.Root, depth: 1}
		return true
	}
	if existing.root == hdr.TaskNode.Root {
		existing.depth++
		return true
	}
	return false
}

// removeTaskGroup releases the group-serialization slot a task held.
func (w *Worker) removeTaskGroup(task htask.Task, state htask.State, laneId int, isRemote bool) {
	if isRemote {
		return
	}
	hdr := task.Hdr()
	group := state.GetGroup(hdr.Method, task)
	if group.Unordered {
		return
	}

	key := groupMapKey{key: string(group.Key), laneId: laneId}

	w.groupMu.Lock()
	defer w.groupMu.Unlock()

	existing, ok := w.groupMap[key]
	if !ok {
		return
	}
	existing.depth--
	if existing.depth == 0 {
		delete(w.groupMap, key)
	}
}
