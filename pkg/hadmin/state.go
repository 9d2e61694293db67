package hadmin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/horch"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hruntime"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/hworker"
	"github.com/hstor/hrun/pkg/states/sched"
)

// DefaultSchedulePeriod is how often the installed QueueSchedState/
// ProcSchedState Schedule task re-fires.
const DefaultSchedulePeriod = 10 * time.Millisecond

// Stopper is the capability StopRuntime needs from the transport layer,
// named narrowly so hadmin doesn't have to import pkg/htransport (and its
// libp2p dependency) just to call one method on it. pkg/htransport.Transport
// satisfies this.
type Stopper interface {
	Close() error
}

// State implements htask.State for the admin task state: a
// task-dispatched façade over hregistry.Registry and horch.Orchestrator,
// so every other task library, task state, and scheduling policy comes
// into existence the same way any other task runs, through the
// cooperative queue a worker polls.
type State struct {
	rt        *hruntime.Runtime
	orch      *horch.Orchestrator
	log       *hlog.Logger
	transport Stopper

	mu     sync.Mutex
	polled map[hids.TaskStateId]bool // scheduler state ids whose Admin lane 0 a worker is already polling
}

// New binds the admin state to the runtime façade and orchestrator it
// administers. transport may be nil for a single-node deployment with no
// remote dispatcher.
func New(rt *hruntime.Runtime, orch *horch.Orchestrator, log *hlog.Logger, transport Stopper) *State {
	return &State{
		rt:        rt,
		orch:      orch,
		log:       log,
		transport: transport,
		polled:    make(map[hids.TaskStateId]bool),
	}
}

func (s *State) New(method int) (htask.Task, error) {
	switch method {
	case MethodRegisterTaskLib:
		return &RegisterTaskLibTask{}, nil
	case MethodDestroyTaskLib:
		return &DestroyTaskLibTask{}, nil
	case MethodCreateTaskState:
		return &CreateTaskStateTask{}, nil
	case MethodDestroyTaskState:
		return &DestroyTaskStateTask{}, nil
	case MethodGetOrCreateTaskStateId:
		return &GetOrCreateTaskStateIdTask{}, nil
	case MethodGetTaskStateId:
		return &GetTaskStateIdTask{}, nil
	case MethodStopRuntime:
		return &StopRuntimeTask{}, nil
	case MethodSetWorkOrchQueuePolicy:
		return &SetWorkOrchQueuePolicyTask{}, nil
	case MethodSetWorkOrchProcPolicy:
		return &SetWorkOrchProcPolicyTask{}, nil
	case MethodFlush:
		return &FlushTask{}, nil
	default:
		return nil, fmt.Errorf("hadmin: unknown method %d", method)
	}
}

func (s *State) Run(_ context.Context, method int, task htask.Task, _ *htask.RunCtx) error {
	switch method {
	case MethodRegisterTaskLib:
		t := task.(*RegisterTaskLibTask)
		if err := s.rt.Registry.RegisterLib(t.LibName, t.Factory); err != nil {
			t.Err = err.Error()
		}
	case MethodDestroyTaskLib:
		t := task.(*DestroyTaskLibTask)
		if err := s.rt.Registry.DestroyLib(t.LibName); err != nil {
			t.Err = err.Error()
		}
	case MethodCreateTaskState:
		s.runCreateTaskState(task.(*CreateTaskStateTask))
	case MethodDestroyTaskState:
		t := task.(*DestroyTaskStateTask)
		if err := s.rt.Registry.DestroyTaskState(t.Id); err != nil {
			t.Err = err.Error()
		}
	case MethodGetOrCreateTaskStateId:
		t := task.(*GetOrCreateTaskStateIdTask)
		id, err := s.rt.Registry.GetOrCreateTaskStateId(s.rt.LocalNode, t.LibName, t.StateName)
		if err != nil {
			t.Err = err.Error()
		} else {
			t.Ret = id
		}
	case MethodGetTaskStateId:
		t := task.(*GetTaskStateIdTask)
		id, ok := s.rt.Registry.GetTaskStateId(t.StateName)
		t.Ret = id
		t.Found = ok
	case MethodStopRuntime:
		go func() {
			if err := s.orch.StopRuntime(); err != nil {
				s.log.Errorw("hadmin: orchestrator shutdown", "err", err)
			}
			if s.transport != nil {
				if err := s.transport.Close(); err != nil {
					s.log.Errorw("hadmin: transport shutdown", "err", err)
				}
			}
		}()
	case MethodSetWorkOrchQueuePolicy:
		t := task.(*SetWorkOrchQueuePolicyTask)
		if err := s.installScheduler(t.Id); err != nil {
			t.Err = err.Error()
		}
	case MethodSetWorkOrchProcPolicy:
		t := task.(*SetWorkOrchProcPolicyTask)
		if err := s.installScheduler(t.Id); err != nil {
			t.Err = err.Error()
		}
	case MethodFlush:
		for i := 0; i < s.orch.NumWorkers(); i++ {
			s.orch.Worker(i).Flush(true)
		}
	default:
		return fmt.Errorf("hadmin: unknown method %d", method)
	}
	task.Hdr().SetFlag(htask.ModuleComplete)
	return nil
}

// runCreateTaskState implements the CreateTaskState verb
// exactly: (a) a null id goes through the node-1 naming authority; (b) an
// id that already names a live state short-circuits without creating
// anything; (c) otherwise a queue is built from QueueInfo and registered
// with both the runtime façade (for Submit's GetQueue) and the
// orchestrator (for the default scheduling policy to see).
func (s *State) runCreateTaskState(t *CreateTaskStateTask) {
	id := t.Id
	if id.IsNull() {
		resolved, err := s.rt.Registry.GetOrCreateTaskStateId(s.rt.LocalNode, t.LibName, t.StateName)
		if err != nil {
			t.Err = err.Error()
			return
		}
		id = resolved
	} else {
		resolved, err := s.rt.Registry.CreateTaskStateWithId(id, t.LibName, t.StateName)
		if err != nil {
			t.Err = err.Error()
			return
		}
		id = resolved
	}

	if _, ok := s.rt.GetQueue(hids.NewQueueId(id)); !ok {
		q := hqueue.New(hids.NewQueueId(id), t.QueueInfo)
		s.rt.RegisterQueue(q)
		s.orch.RegisterQueue(q)
	}
	t.Ret = id
}

// installScheduler swaps whatever Schedule task currently sits in
// targetId's Admin lane 0 for a fresh long-running Schedule task. This
// runs inside the admin worker's own Run call, so popping the lane
// directly is safe: nothing else consumes it concurrently.
func (s *State) installScheduler(targetId hids.TaskStateId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.rt.GetQueue(hids.NewQueueId(targetId))
	if !ok {
		return fmt.Errorf("hadmin: no queue registered for scheduler state %s", targetId)
	}
	lane := q.Group(hqueue.Admin).Lane(0)
	for {
		old, ok := lane.Pop()
		if !ok {
			break
		}
		if old.Complete {
			// A slot the worker already retired; nothing left to reclaim.
			continue
		}
		s.rt.DelTask(old.Task)
		break
	}

	newTask := sched.NewScheduleTask(hids.NewRootTaskNode(s.rt.MakeTaskNodeId()), targetId, DefaultSchedulePeriod)
	_, ptr, err := hruntime.NewTask(s.rt, newTask)
	if err != nil {
		return err
	}
	if err := s.rt.Submit(ptr, newTask); err != nil {
		return err
	}

	if !s.polled[targetId] {
		s.orch.AdminWorker().PollQueues([]hworker.WorkEntry{{Queue: q, Prio: hqueue.Admin, LaneId: 0}})
		s.polled[targetId] = true
	}
	return nil
}

func (s *State) Del(int, htask.Task) {}

func (s *State) SaveStart(method int, ar *htask.Archive, task htask.Task) error {
	if method != MethodGetOrCreateTaskStateId {
		return nil
	}
	t := task.(*GetOrCreateTaskStateIdTask)
	if err := ar.Put(t.LibName); err != nil {
		return err
	}
	return ar.Put(t.StateName)
}

func (s *State) LoadStart(method int, ar *htask.Archive, task htask.Task) error {
	if method != MethodGetOrCreateTaskStateId {
		return nil
	}
	t := task.(*GetOrCreateTaskStateIdTask)
	if err := ar.Get(&t.LibName); err != nil {
		return err
	}
	return ar.Get(&t.StateName)
}

func (s *State) SaveEnd(method int, ar *htask.Archive, task htask.Task) error {
	if method != MethodGetOrCreateTaskStateId {
		return nil
	}
	return ar.Put(task.(*GetOrCreateTaskStateIdTask).Ret)
}

func (s *State) LoadEnd(method int, ar *htask.Archive, task htask.Task) error {
	if method != MethodGetOrCreateTaskStateId {
		return nil
	}
	return ar.Get(&task.(*GetOrCreateTaskStateIdTask).Ret)
}

func (s *State) GetGroup(_ int, task htask.Task) htask.GroupKey {
	return htask.GroupKey{Unordered: true}
}

func (s *State) ReplicateStart(int, int, htask.Task) error { return nil }
func (s *State) ReplicateEnd(int, htask.Task) error        { return nil }

func (s *State) Dup(method int, task htask.Task) (htask.Task, error) {
	return nil, fmt.Errorf("hadmin: method %d is not replicated", method)
}
func (s *State) DupEnd(int, htask.Task, htask.Task) error { return nil }
