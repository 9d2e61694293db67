package htask

import "context"

// State is the capability interface every registered task-state module
// implements. The registry
// (pkg/hregistry) dispatches by TaskStateId to one of these per task;
// method dispatch within a state is by the integer Method field on the
// task's header, left to each implementation (a switch, typically).
type State interface {
	// Run executes one dispatch of task for the given method, using ctx's
	// Yield to suspend if the task is a coroutine. It returns an error
	// only for conditions the worker should log and abandon the task for;
	// ordinary completion is signaled by setting ModuleComplete on the
	// task, after which the worker marks it Complete.
	Run(ctx context.Context, method int, task Task, rc *RunCtx) error

	// New constructs a blank task of the type the given method expects.
	// The remote dispatcher's ingress leg uses this to reconstruct a task
	// from wire bytes before LoadStart populates it.
	New(method int) (Task, error)

	// Del releases any module-owned resources task holds. The worker calls
	// it once when a fire-and-forget task finishes, in place of marking
	// that task Complete.
	Del(method int, task Task)

	// SaveStart serializes task's parameters and registers any buffers
	// that must cross the wire before a remote Run (egress path).
	SaveStart(method int, archive *Archive, task Task) error
	// LoadStart reconstructs a task's parameters from archive on the
	// ingress side, before the reconstituted task is locally emplaced.
	LoadStart(method int, archive *Archive, task Task) error
	// SaveEnd serializes the task's result fields after Run returns, for
	// the reply leg of a remote call.
	SaveEnd(method int, archive *Archive, task Task) error
	// LoadEnd applies a reply's result fields back onto the originating
	// task, completing the round trip.
	LoadEnd(method int, archive *Archive, task Task) error

	// GetGroup returns the group key, if any, this method/task pair
	// belongs to for serialization purposes. Most states delegate straight to
	// task.GetGroup(); a state only needs to implement this separately
	// when the grouping key depends on the method, not just the task.
	GetGroup(method int, task Task) GroupKey

	// ReplicateStart is called once by the remote dispatcher before it
	// sends task to its target nodes; count is the number of targets.
	// Lane-all fan-out does not call it.
	ReplicateStart(method int, count int, task Task) error
	// ReplicateEnd is called once all replicas of a fanned-out call have
	// completed, on the task that originated the fan-out.
	ReplicateEnd(method int, task Task) error

	// Dup creates a duplicate of task suitable for submission as an
	// independent replica.
	Dup(method int, task Task) (Task, error)
	// DupEnd merges a completed replica's results back into the original
	// task once Dup produced it and the replica finished running.
	DupEnd(method int, replica Task, task Task) error
}
