package smallmessage

import (
	"context"
	"fmt"

	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/htask"
)

// State implements htask.State for the small-message built-in module:
// Construct/Destruct just mark completion, Md always succeeds, and Io
// reports whether the first 256 bytes of the transferred buffer match
// IoFillByte.
type State struct {
	name string
}

// New returns a fresh small-message task-state server.
func New(name string) *State { return &State{name: name} }

func (s *State) New(method int) (htask.Task, error) {
	// Blank tasks carry the LowLatency priority the New*Task constructors
	// use, so a task rebuilt on the ingress side lands on the same group.
	base := htask.NewBase(htask.Header{Prio: hqueue.LowLatency})
	switch method {
	case MethodConstruct:
		return &ConstructTask{Base: base}, nil
	case MethodDestruct:
		return &DestructTask{Base: base}, nil
	case MethodMd:
		return &MdTask{Base: base, Ret: make([]int, 1)}, nil
	case MethodMdPush:
		return &MdPushTask{Base: base, Ret: make([]int, 1)}, nil
	case MethodIo:
		return &IoTask{Base: base}, nil
	case MethodIoRead:
		return &IoReadTask{Base: base}, nil
	default:
		return nil, fmt.Errorf("smallmessage: unknown method %d", method)
	}
}

func (s *State) Run(_ context.Context, method int, task htask.Task, _ *htask.RunCtx) error {
	switch method {
	case MethodConstruct:
		t, ok := task.(*ConstructTask)
		if !ok {
			return fmt.Errorf("smallmessage: Construct got %T", task)
		}
		t.Hdr().SetFlag(htask.ModuleComplete)
		return nil
	case MethodDestruct:
		t, ok := task.(*DestructTask)
		if !ok {
			return fmt.Errorf("smallmessage: Destruct got %T", task)
		}
		t.Hdr().SetFlag(htask.ModuleComplete)
		return nil
	case MethodMd:
		t, ok := task.(*MdTask)
		if !ok {
			return fmt.Errorf("smallmessage: Md got %T", task)
		}
		for i := range t.Ret {
			t.Ret[i] = 1
		}
		t.Hdr().SetFlag(htask.ModuleComplete)
		return nil
	case MethodMdPush:
		t, ok := task.(*MdPushTask)
		if !ok {
			return fmt.Errorf("smallmessage: MdPush got %T", task)
		}
		for i := range t.Ret {
			t.Ret[i] = 1
		}
		t.Hdr().SetFlag(htask.ModuleComplete)
		return nil
	case MethodIo:
		t, ok := task.(*IoTask)
		if !ok {
			return fmt.Errorf("smallmessage: Io got %T", task)
		}
		t.Ret = 1
		for i := 0; i < 256; i++ {
			if t.Data[i] != IoFillByte {
				t.Ret = 0
				break
			}
		}
		t.Hdr().SetFlag(htask.ModuleComplete)
		return nil
	case MethodIoRead:
		t, ok := task.(*IoReadTask)
		if !ok {
			return fmt.Errorf("smallmessage: IoRead got %T", task)
		}
		for i := range t.Data {
			t.Data[i] = IoFillByte
		}
		t.Ret = 1
		t.Hdr().SetFlag(htask.ModuleComplete)
		return nil
	default:
		return fmt.Errorf("smallmessage: unknown method %d", method)
	}
}

func (s *State) Del(method int, task htask.Task) {}

func (s *State) SaveStart(method int, ar *htask.Archive, task htask.Task) error {
	switch method {
	case MethodIo:
		t := task.(*IoTask)
		ar.AddTransfer(htask.DataTransfer{Dir: htask.DirReceiverRead, Data: t.Data[:]})
		return ar.Put(t.Hdr().Method)
	case MethodIoRead:
		// The submitter's buffer is the destination, not a payload: it
		// rides along as a receiver-write transfer so the reply leg knows
		// where to land the server-produced bytes.
		t := task.(*IoReadTask)
		ar.AddTransfer(htask.DataTransfer{Dir: htask.DirReceiverWrite, Data: t.Data[:]})
		return ar.Put(t.Hdr().Method)
	case MethodMd:
		t := task.(*MdTask)
		return ar.Put(t.Hdr().Method)
	case MethodMdPush:
		t := task.(*MdPushTask)
		return ar.Put(t.Hdr().Method)
	default:
		return nil
	}
}

func (s *State) LoadStart(method int, ar *htask.Archive, task htask.Task) error {
	switch method {
	case MethodIo:
		t := task.(*IoTask)
		var m int
		if err := ar.Get(&m); err != nil {
			return err
		}
		if len(ar.Transfers) != 1 {
			return fmt.Errorf("smallmessage: Io load expected 1 transfer, got %d", len(ar.Transfers))
		}
		copy(t.Data[:], ar.Transfers[0].Data)
		return nil
	case MethodIoRead:
		// Nothing to consume: the inbound bulk is an empty destination
		// buffer, and Run produces the real contents.
		var m int
		return ar.Get(&m)
	case MethodMd:
		t := task.(*MdTask)
		return ar.Get(&t.Hdr().Method)
	case MethodMdPush:
		t := task.(*MdPushTask)
		return ar.Get(&t.Hdr().Method)
	default:
		return nil
	}
}

func (s *State) SaveEnd(method int, ar *htask.Archive, task htask.Task) error {
	switch method {
	case MethodIo:
		return ar.Put(task.(*IoTask).Ret)
	case MethodIoRead:
		t := task.(*IoReadTask)
		ar.AddTransfer(htask.DataTransfer{Dir: htask.DirReceiverWrite, Data: t.Data[:]})
		return ar.Put(t.Ret)
	case MethodMd:
		return ar.Put(task.(*MdTask).Ret)
	case MethodMdPush:
		return ar.Put(task.(*MdPushTask).Ret)
	default:
		return nil
	}
}

func (s *State) LoadEnd(method int, ar *htask.Archive, task htask.Task) error {
	switch method {
	case MethodIo:
		return ar.Get(&task.(*IoTask).Ret)
	case MethodIoRead:
		return ar.Get(&task.(*IoReadTask).Ret)
	case MethodMd:
		return ar.Get(&task.(*MdTask).Ret)
	case MethodMdPush:
		return ar.Get(&task.(*MdPushTask).Ret)
	default:
		return nil
	}
}

func (s *State) GetGroup(method int, task htask.Task) htask.GroupKey {
	return htask.GroupKey{Unordered: true}
}

func (s *State) ReplicateStart(method int, count int, task htask.Task) error {
	switch method {
	case MethodMd:
		task.(*MdTask).ReplicateStart(count)
	case MethodMdPush:
		task.(*MdPushTask).ReplicateStart(count)
	}
	return nil
}

func (s *State) ReplicateEnd(method int, task htask.Task) error { return nil }

func (s *State) Dup(method int, task htask.Task) (htask.Task, error) {
	switch method {
	case MethodMd:
		orig := task.(*MdTask)
		dup := &MdTask{Base: htask.NewBase(orig.Header), Ret: make([]int, len(orig.Ret))}
		return dup, nil
	case MethodMdPush:
		orig := task.(*MdPushTask)
		dup := &MdPushTask{Base: htask.NewBase(orig.Header), Ret: make([]int, len(orig.Ret))}
		return dup, nil
	case MethodIo:
		orig := task.(*IoTask)
		dup := &IoTask{Base: htask.NewBase(orig.Header), Data: orig.Data}
		return dup, nil
	case MethodIoRead:
		orig := task.(*IoReadTask)
		dup := &IoReadTask{Base: htask.NewBase(orig.Header)}
		return dup, nil
	default:
		return nil, fmt.Errorf("smallmessage: Dup unsupported for method %d", method)
	}
}

func (s *State) DupEnd(method int, replica htask.Task, task htask.Task) error {
	switch method {
	case MethodMd:
		task.(*MdTask).Ret = append(task.(*MdTask).Ret, replica.(*MdTask).Ret...)
	case MethodMdPush:
		task.(*MdPushTask).Ret = append(task.(*MdPushTask).Ret, replica.(*MdPushTask).Ret...)
	}
	return nil
}
