package hshm

import (
	"fmt"
	"sync"
	"unsafe"
)

// Allocator is a simple bump-with-free-list allocator over a Region's
// bytes. It offers aligned allocation, typed construction in place, and
// typed deletion. The allocation path holds one short mutex; tasks and
// buffers are allocated in a small number of fixed sizes, so an exact-size
// free list is enough to keep the arena from only growing.
type Allocator struct {
	region *Region

	mu       sync.Mutex
	next     uint64 // next free byte offset, monotonically increasing
	freeList map[uintptr][]uint64 // size -> stack of freed offsets of that size
}

const alignment = 8

// NewAllocator creates an allocator over region. Offset 0 is reserved so
// the zero-valued Pointer always means "null."
func NewAllocator(region *Region) *Allocator {
	return &Allocator{region: region, next: alignment, freeList: make(map[uintptr][]uint64)}
}

// Region returns the region this allocator manages.
func (a *Allocator) Region() *Region { return a.region }

func align(v uint64, to uint64) uint64 {
	return (v + to - 1) &^ (to - 1)
}

// AllocBytes reserves size bytes aligned to `alignment` and returns their
// offset. It first tries to reuse a freed block of the exact size before
// bumping the arena pointer.
func (a *Allocator) AllocBytes(size uintptr) (Pointer, error) {
	if size == 0 {
		return Null, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if stack := a.freeList[size]; len(stack) > 0 {
		off := stack[len(stack)-1]
		a.freeList[size] = stack[:len(stack)-1]
		return Pointer{Offset: off}, nil
	}

	start := align(a.next, alignment)
	end := start + uint64(size)
	if int(end) > a.region.Size() {
		return Null, fmt.Errorf("hshm: region %q exhausted: need %d bytes past offset %d, have %d", a.region.Name(), size, start, a.region.Size())
	}
	a.next = end
	return Pointer{Offset: start}, nil
}

// FreeBytes returns a block of size bytes to the free list for reuse by a
// later allocation of the same size. The runtime never compacts the
// arena; fragmentation across distinct sizes is a known limitation,
// acceptable because tasks and queue slots are allocated in a small
// number of fixed sizes.
func (a *Allocator) FreeBytes(p Pointer, size uintptr) {
	if p.IsNull() || size == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeList[size] = append(a.freeList[size], p.Offset)
}

// New allocates and zero-constructs a T in the region, returning both a
// process-local pointer and the region-relative Pointer other processes
// can resolve against their own mapping.
func New[T any](a *Allocator) (*T, Pointer, error) {
	var zero T
	size := unsafe.Sizeof(zero)
	p, err := a.AllocBytes(size)
	if err != nil {
		return nil, Null, err
	}
	local := Deref[T](a.region, p)
	*local = zero
	return local, p, nil
}

// Delete destroys a T previously created with New, returning its storage
// to the allocator. Callers must not use local or p afterward; the
// runtime's client/runtime façade (hruntime) asserts against
// double-destruction at a higher level.
func Delete[T any](a *Allocator, p Pointer) {
	var zero T
	a.FreeBytes(p, unsafe.Sizeof(zero))
}
