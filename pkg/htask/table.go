package htask

import (
	"sync"

	"github.com/hstor/hrun/pkg/hshm"
)

// Table maps the hshm.Pointer handles that travel through lanes and
// queues back to the live Task value they name. Task control structures
// are ordinary Go values (so the Go runtime can manage their memory and
// the garbage collector can see their pointers); Table is the
// process-local indirection from the shm-pointer handles that
// hqueue.Handle carries to those values. Bulk data that genuinely needs
// to be visible to another process — an IoTask's transfer buffer, for
// instance — still goes through hshm.Allocator directly; Table only
// covers task control-block lookup.
type Table struct {
	mu   sync.RWMutex
	byID map[hshm.Pointer]Task
}

// NewTable creates an empty task table.
func NewTable() *Table {
	return &Table{byID: make(map[hshm.Pointer]Task)}
}

// Put registers task under ptr, the handle that will travel through
// queues in its place.
func (t *Table) Put(ptr hshm.Pointer, task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[ptr] = task
}

// Get resolves a handle back to its Task.
func (t *Table) Get(ptr hshm.Pointer) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.byID[ptr]
	return task, ok
}

// Delete removes a handle's entry, once the task is complete and
// reclaimed.
func (t *Table) Delete(ptr hshm.Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, ptr)
}
