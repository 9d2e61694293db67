package sched

import (
	"context"
	"fmt"

	"github.com/hstor/hrun/pkg/horch"
	"github.com/hstor/hrun/pkg/htask"
)

// QueueSchedState's Run body calls horch.Orchestrator.ScheduleQueues: the
// default queue-scheduling policy, installed as a
// LongRunning task on the admin queue by the admin task state's
// SetWorkOrchQueuePolicy verb.
type QueueSchedState struct {
	orch *horch.Orchestrator
}

// NewQueueSchedState binds the state to the orchestrator it schedules.
func NewQueueSchedState(orch *horch.Orchestrator) *QueueSchedState {
	return &QueueSchedState{orch: orch}
}

func (s *QueueSchedState) New(method int) (htask.Task, error) {
	if method != MethodSchedule {
		return nil, fmt.Errorf("sched: queue scheduler has no method %d", method)
	}
	return &ScheduleTask{}, nil
}

func (s *QueueSchedState) Run(_ context.Context, method int, task htask.Task, _ *htask.RunCtx) error {
	if method != MethodSchedule {
		return fmt.Errorf("sched: queue scheduler has no method %d", method)
	}
	s.orch.ScheduleQueues()
	return nil
}

func (s *QueueSchedState) Del(int, htask.Task) {}

func (s *QueueSchedState) SaveStart(int, *htask.Archive, htask.Task) error { return nil }
func (s *QueueSchedState) LoadStart(int, *htask.Archive, htask.Task) error { return nil }
func (s *QueueSchedState) SaveEnd(int, *htask.Archive, htask.Task) error   { return nil }
func (s *QueueSchedState) LoadEnd(int, *htask.Archive, htask.Task) error   { return nil }

func (s *QueueSchedState) GetGroup(_ int, task htask.Task) htask.GroupKey {
	return htask.GroupKey{Unordered: true}
}

func (s *QueueSchedState) ReplicateStart(int, int, htask.Task) error { return nil }
func (s *QueueSchedState) ReplicateEnd(int, htask.Task) error        { return nil }

func (s *QueueSchedState) Dup(int, htask.Task) (htask.Task, error) {
	return nil, fmt.Errorf("sched: queue scheduler tasks are not replicated")
}
func (s *QueueSchedState) DupEnd(int, htask.Task, htask.Task) error { return nil }

// ProcSchedState's Run body calls horch.Orchestrator.RebindCPUAffinity: the
// default CPU-affinity policy, installed as a
// LongRunning task on the admin queue by the admin task state's
// SetWorkOrchProcPolicy verb.
type ProcSchedState struct {
	orch *horch.Orchestrator
}

// NewProcSchedState binds the state to the orchestrator it rebinds.
func NewProcSchedState(orch *horch.Orchestrator) *ProcSchedState {
	return &ProcSchedState{orch: orch}
}

func (s *ProcSchedState) New(method int) (htask.Task, error) {
	if method != MethodSchedule {
		return nil, fmt.Errorf("sched: process scheduler has no method %d", method)
	}
	return &ScheduleTask{}, nil
}

func (s *ProcSchedState) Run(_ context.Context, method int, task htask.Task, _ *htask.RunCtx) error {
	if method != MethodSchedule {
		return fmt.Errorf("sched: process scheduler has no method %d", method)
	}
	s.orch.RebindCPUAffinity()
	return nil
}

func (s *ProcSchedState) Del(int, htask.Task) {}

func (s *ProcSchedState) SaveStart(int, *htask.Archive, htask.Task) error { return nil }
func (s *ProcSchedState) LoadStart(int, *htask.Archive, htask.Task) error { return nil }
func (s *ProcSchedState) SaveEnd(int, *htask.Archive, htask.Task) error   { return nil }
func (s *ProcSchedState) LoadEnd(int, *htask.Archive, htask.Task) error   { return nil }

func (s *ProcSchedState) GetGroup(_ int, task htask.Task) htask.GroupKey {
	return htask.GroupKey{Unordered: true}
}

func (s *ProcSchedState) ReplicateStart(int, int, htask.Task) error { return nil }
func (s *ProcSchedState) ReplicateEnd(int, htask.Task) error        { return nil }

func (s *ProcSchedState) Dup(int, htask.Task) (htask.Task, error) {
	return nil, fmt.Errorf("sched: process scheduler tasks are not replicated")
}
func (s *ProcSchedState) DupEnd(int, htask.Task, htask.Task) error { return nil }
