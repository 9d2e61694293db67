// Package smallmessage is a built-in task-state module used to exercise
// the runtime end to end: a metadata round trip (Md) and a bulk-buffer
// round trip (Io). It doubles as the reference example a new task-state
// author starts from.
package smallmessage

// Method identifies which verb a dispatched task invokes.
const (
	MethodConstruct = iota
	MethodDestruct
	MethodMd
	MethodMdPush
	MethodIo
	MethodIoRead
)
