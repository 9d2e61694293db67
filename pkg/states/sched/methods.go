// Package sched provides the two built-in scheduler task states the work
// orchestrator installs at startup: QueueSchedState drives the default
// queue-scheduling policy, ProcSchedState drives the default CPU-affinity
// policy. Both are thin LongRunning task-state wrappers around methods
// horch.Orchestrator already implements, following the same State/Task
// split as pkg/states/smallmessage.
package sched

// Method identifies the one verb either scheduler state exposes.
const MethodSchedule = 0
