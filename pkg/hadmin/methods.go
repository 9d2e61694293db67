// Package hadmin implements the admin task state: the one task state
// every runtime bootstraps before any other, running on the reserved
// admin queue, through which every other task library and task state
// comes into being. It is a task-dispatched façade over
// pkg/hregistry.Registry, one verb per method.
package hadmin

// Method identifies one admin verb.
const (
	MethodRegisterTaskLib = iota
	MethodDestroyTaskLib
	MethodCreateTaskState
	MethodDestroyTaskState
	MethodGetOrCreateTaskStateId
	MethodGetTaskStateId
	MethodStopRuntime
	MethodSetWorkOrchQueuePolicy
	MethodSetWorkOrchProcPolicy
	MethodFlush
)
