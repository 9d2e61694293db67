// Package hruntime implements the client/runtime façade: the thin
// submit/await surface in-process submitters use, over the set of queues
// registered with it.
// Two process modes share this type: a runtime process creates the shared
// region (New), a client process attaches to one an existing runtime made
// (Attach). Both get the same NewTask/DelTask/GetQueue/MakeTaskStateId/
// MakeTaskNodeId/AllocateBuffer surface.
package hruntime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hshm"
	"github.com/hstor/hrun/pkg/htask"
)

// Runtime is the process-local façade over the shared region, the task
// table, the registry, and the set of live queues. A single process may be
// either the creator of the region ("runtime" mode) or an attacher
// ("client" mode); both use the identical type.
type Runtime struct {
	LocalNode hids.NodeId

	region   *hshm.Region
	alloc    *hshm.Allocator
	Registry *hregistry.Registry
	Tasks    *htask.Table

	mu     sync.RWMutex
	queues map[hids.QueueId]*hqueue.Queue

	nextUnique atomic.Uint64
}

// New creates a fresh shared-memory region of the given size and returns
// the runtime-mode façade over it.
func New(local hids.NodeId, regionPath string, regionSize int, registry *hregistry.Registry) (*Runtime, error) {
	var region *hshm.Region
	var err error
	if regionPath == "" {
		region, err = hshm.CreateAnonymous(regionSize)
	} else {
		region, err = hshm.Create(regionPath, regionSize)
	}
	if err != nil {
		return nil, fmt.Errorf("hruntime: create region: %w", err)
	}
	return newRuntime(local, region, registry), nil
}

// Attach opens a region a runtime process already created and returns the
// client-mode façade over it.
func Attach(local hids.NodeId, regionPath string, registry *hregistry.Registry) (*Runtime, error) {
	region, err := hshm.Attach(regionPath)
	if err != nil {
		return nil, fmt.Errorf("hruntime: attach region: %w", err)
	}
	return newRuntime(local, region, registry), nil
}

func newRuntime(local hids.NodeId, region *hshm.Region, registry *hregistry.Registry) *Runtime {
	return &Runtime{
		LocalNode: local,
		region:    region,
		alloc:     hshm.NewAllocator(region),
		Registry:  registry,
		Tasks:     htask.NewTable(),
		queues:    make(map[hids.QueueId]*hqueue.Queue),
	}
}

// Close releases the region mapping. A runtime-mode process owns the
// backing file (if any); a client-mode process merely detaches.
func (rt *Runtime) Close() error { return rt.region.Close() }

// RegisterQueue makes a freshly created queue visible to GetQueue, the
// O(1) lookup the id scheme guarantees.
func (rt *Runtime) RegisterQueue(q *hqueue.Queue) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.queues[q.Id] = q
}

// GetQueue resolves a queue by id in O(1).
func (rt *Runtime) GetQueue(id hids.QueueId) (*hqueue.Queue, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	q, ok := rt.queues[id]
	return q, ok
}

// MakeTaskStateId allocates a fresh unique value from the process-wide
// counter. The registry is the actual naming authority for task-state ids
// (hregistry.GetOrCreateTaskStateId); this is for callers minting an id
// directly rather than going through a named lookup.
func (rt *Runtime) MakeTaskStateId() hids.TaskStateId {
	return hids.UniqueId{NodeId: rt.LocalNode, Unique: rt.nextUnique.Add(1)}
}

// MakeTaskNodeId allocates a fresh root TaskId for a new task graph.
func (rt *Runtime) MakeTaskNodeId() hids.TaskId {
	return hids.UniqueId{NodeId: rt.LocalNode, Unique: rt.nextUnique.Add(1)}
}

// newHandle mints a unique hshm.Pointer token to stand in for a task
// control block that lives as an ordinary Go value rather
// than inside the mmap'd arena. The allocator's offset counter is reused
// purely as a source of process-wide-unique tokens; no bytes are actually
// written at the offset.
func (rt *Runtime) newHandle() (hshm.Pointer, error) {
	return rt.alloc.AllocBytes(1)
}

// NewTask allocates a handle for task and registers it in the task table,
// returning the handle a caller emplaces onto a lane. The caller has
// already filled in task's header fields.
func NewTask[T htask.Task](rt *Runtime, task T) (T, hshm.Pointer, error) {
	ptr, err := rt.newHandle()
	if err != nil {
		var zero T
		return zero, hshm.Null, err
	}
	rt.Tasks.Put(ptr, task)
	return task, ptr, nil
}

// NewTaskRoot is NewTask for a task that starts a fresh task graph: it
// synthesizes a root TaskNode (depth 0) from a freshly minted TaskId before
// registering the handle.
func NewTaskRoot[T htask.Task](rt *Runtime, task T) (T, hshm.Pointer, error) {
	task.Hdr().TaskNode = hids.NewRootTaskNode(rt.MakeTaskNodeId())
	return NewTask(rt, task)
}

// DelTask destroys a task handle. Calling it twice for the same handle
// is a protocol violation; deleted reports whether ptr actually named a
// live task.
func (rt *Runtime) DelTask(ptr hshm.Pointer) (deleted bool) {
	if _, ok := rt.Tasks.Get(ptr); !ok {
		return false
	}
	rt.Tasks.Delete(ptr)
	rt.alloc.FreeBytes(ptr, 1)
	return true
}

// AllocateBuffer reserves size bytes in the shared region for task payload
// data distinct from the task header — blob data for a PutBlob-shaped
// task, for instance.
func (rt *Runtime) AllocateBuffer(size int) (hshm.Pointer, error) {
	return rt.alloc.AllocBytes(uintptr(size))
}

// FreeBuffer releases a buffer allocated with AllocateBuffer.
func (rt *Runtime) FreeBuffer(ptr hshm.Pointer, size int) {
	rt.alloc.FreeBytes(ptr, uintptr(size))
}

// Deref resolves a region-relative Pointer into a process-local byte slice
// view of length size, for reading/writing buffer payloads directly.
func (rt *Runtime) Deref(ptr hshm.Pointer, size int) []byte {
	if ptr.IsNull() || size == 0 {
		return nil
	}
	p := hshm.Deref[byte](rt.region, ptr)
	return unsafeSlice(p, size)
}

// Submit emplaces task onto the queue owned by its target task state,
// picking the lane by the header's Prio/LaneHash. It is the common path
// every task-state-agnostic submitter
// (CLI entrypoints, the admin state, the remote dispatcher's ingress leg)
// uses instead of reaching into hqueue directly.
func (rt *Runtime) Submit(ptr hshm.Pointer, task htask.Task) error {
	hdr := task.Hdr()
	q, ok := rt.GetQueue(hids.NewQueueId(hdr.TaskState))
	if !ok {
		return fmt.Errorf("hruntime: no queue for task state %s", hdr.TaskState)
	}
	handle := hqueue.Handle{Task: ptr}
	if hdr.Has(htask.LaneAll) {
		return rt.submitLaneAll(q, ptr, task)
	}
	_, err := q.Emplace(hdr.Prio, hdr.LaneHash, []hqueue.Handle{handle}, false)
	return err
}

// submitLaneAll fans a lane-all task out one copy per lane of its group:
// lane 0 carries the original, the rest carry state.Dup clones marked
// fire-and-forget so the workers that run them also reclaim them. LaneAll
// is cleared on every copy before emplacement so each runs exactly once.
func (rt *Runtime) submitLaneAll(q *hqueue.Queue, ptr hshm.Pointer, task htask.Task) error {
	hdr := task.Hdr()
	state, ok := rt.Registry.GetTaskState(hdr.TaskState)
	if !ok {
		return fmt.Errorf("hruntime: no task state %s for lane-all fan-out", hdr.TaskState)
	}

	n := q.Group(hdr.Prio).NumLanes()
	hdr.ClearFlag(htask.LaneAll)
	handles := make([]hqueue.Handle, n)
	handles[0] = hqueue.Handle{Task: ptr}
	for i := 1; i < n; i++ {
		dup, err := state.Dup(hdr.Method, task)
		if err != nil {
			return fmt.Errorf("hruntime: dup for lane-all fan-out: %w", err)
		}
		dup.Hdr().ClearFlag(htask.LaneAll)
		dup.Hdr().SetFlag(htask.FireAndForget)
		dupPtr, err := rt.newHandle()
		if err != nil {
			return err
		}
		rt.Tasks.Put(dupPtr, dup)
		handles[i] = hqueue.Handle{Task: dupPtr}
	}
	_, err := q.Emplace(hdr.Prio, hdr.LaneHash, handles, true)
	return err
}
