package smallmessage

import (
	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/htask"
)

// ConstructTask creates the small-message task state itself. It carries no
// fields beyond the header; Run just marks it module-complete.
type ConstructTask struct {
	htask.Base
}

// DestructTask tears down the task state.
type DestructTask struct {
	htask.Base
}

// MdTask is a metadata round trip: one result slot per replica, sized by
// ReplicateStart.
type MdTask struct {
	htask.Base
	Ret []int
}

// NewMdTask constructs an Md task targeting state on domain.
func NewMdTask(node hids.TaskNode, domain hids.DomainId, state hids.TaskStateId) *MdTask {
	h := htask.NewHeader(state, node, domain, hqueue.LowLatency, 0, MethodMd)
	h.SetFlag(htask.DataOwner)
	return &MdTask{Base: htask.NewBase(*h), Ret: make([]int, 1)}
}

func (t *MdTask) ReplicateStart(count int) { t.Ret = make([]int, count) }

// MdPushTask is the work-queue-pushed variant of MdTask; same payload
// shape, dispatched through the proc-queue push path instead of directly.
type MdPushTask struct {
	htask.Base
	Ret []int
}

// NewMdPushTask constructs an MdPush task targeting state on domain.
func NewMdPushTask(node hids.TaskNode, domain hids.DomainId, state hids.TaskStateId) *MdPushTask {
	h := htask.NewHeader(state, node, domain, hqueue.LowLatency, 0, MethodMdPush)
	h.SetFlag(htask.DataOwner)
	return &MdPushTask{Base: htask.NewBase(*h), Ret: make([]int, 1)}
}

func (t *MdPushTask) ReplicateStart(count int) { t.Ret = make([]int, count) }

// IoDataSize is the fixed bulk-transfer payload size.
const IoDataSize = 4096

// IoFillByte is the byte value the outgoing buffer is filled with, and
// that the server checks the first 256 bytes against.
const IoFillByte = 10

// IoTask exercises the bulk-transfer path:
// Data travels out as a DT_RECEIVER_READ DataTransfer; Ret reports whether
// the receiver observed the expected fill pattern.
type IoTask struct {
	htask.Base
	Data [IoDataSize]byte
	Ret  int
}

// NewIoTask constructs an Io task targeting state on domain, with Data
// pre-filled to IoFillByte.
func NewIoTask(node hids.TaskNode, domain hids.DomainId, state hids.TaskStateId) *IoTask {
	h := htask.NewHeader(state, node, domain, hqueue.LowLatency, 3, MethodIo)
	t := &IoTask{Base: htask.NewBase(*h)}
	for i := range t.Data {
		t.Data[i] = IoFillByte
	}
	return t
}

// IoReadTask is the opposite direction of IoTask: the submitter's Data
// starts empty, the server's Run fills its copy with IoFillByte, and the
// reply pushes the filled buffer back into the submitter's Data through a
// receiver-write transfer. Ret is 1 once the server produced the buffer.
type IoReadTask struct {
	htask.Base
	Data [IoDataSize]byte
	Ret  int
}

// NewIoReadTask constructs an IoRead task targeting state on domain. Data
// is left zeroed; completion of the round trip overwrites it.
func NewIoReadTask(node hids.TaskNode, domain hids.DomainId, state hids.TaskStateId) *IoReadTask {
	h := htask.NewHeader(state, node, domain, hqueue.LowLatency, 3, MethodIoRead)
	return &IoReadTask{Base: htask.NewBase(*h)}
}
