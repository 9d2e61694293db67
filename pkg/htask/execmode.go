package htask

// ExecMode is the sum type a worker assigns a task when it first dispatches
// it. The task itself only sees a Yield function
// appropriate to whichever mode it was given; it never inspects the mode.
type ExecMode int

const (
	// ModePlain never yields; Run must return to completion in one call.
	ModePlain ExecMode = iota
	// ModeCoroutine yields cooperatively: a goroutine parked on a channel
	// handoff with its owning worker (see pkg/hworker).
	ModeCoroutine
	// ModePreemptive runs detached on its own goroutine, outside the
	// worker's loop (see pkg/hworker).
	ModePreemptive
)

func (m ExecMode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeCoroutine:
		return "coroutine"
	case ModePreemptive:
		return "preemptive"
	default:
		return "unknown"
	}
}

// YieldFunc is handed to a task by whatever is running it, matching the
// mode it was dispatched under. Calling it suspends the current Run call
// until the owning worker resumes it.
type YieldFunc func()
