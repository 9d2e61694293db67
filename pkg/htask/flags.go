package htask

// Flags encodes the task lifecycle state machine. Each bit is set and
// cleared by one owning party (worker, dispatcher, task state, or
// submitter); transitions are monotonic except where noted on the bit.
type Flags uint32

const (
	// HasStarted is set by the worker on first dispatch ("Run has been
	// entered at least once"). A suspended coroutine keeps it; the worker
	// clears it only when the coroutine's Run finally returns.
	HasStarted Flags = 1 << iota
	// DisableRun is set by the worker when it hands a task to the remote
	// dispatcher or detaches a preemptive task; the ingress leg clears it
	// on the task it rebuilds. Suppresses local Run; ownership has
	// transferred elsewhere.
	DisableRun
	// Coroutine marks a task that will yield, set by the task-state author;
	// cleared by the worker when the coroutine's Run finally returns or
	// the task is handed to the remote dispatcher.
	Coroutine
	// ModuleComplete is set by the task state once its logical work is
	// done. Never cleared.
	ModuleComplete
	// Complete is set by the worker after cleanup; observers may reclaim
	// the task. Terminal; never cleared.
	Complete
	// FireAndForget is set by the submitter, or by the runtime on lane-all
	// copies; never cleared. The worker frees the task on completion
	// instead of waiting for a submitter to observe it.
	FireAndForget
	// DataOwner is set by the submitter; cleared by whichever party the
	// ownership transfers to. The task owns any side-allocated buffers.
	DataOwner
	// LongRunning is set by the task-state author; cleared only by the
	// ingress leg on the task it rebuilds. The task re-runs periodically.
	LongRunning
	// LaneAll is set by the submitter; cleared by the runtime's lane-all
	// fan-out at submission. Execute on every lane of the group once.
	LaneAll
	// Unordered is set by the task state via GetGroup (or, in this Go
	// port, directly on the task); never cleared. Exempt from
	// group-serialization.
	Unordered
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }
