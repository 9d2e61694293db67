// Package hshm implements the shared-memory region and allocator that
// back cross-process task buffers in the runtime.
//
// The runtime creates a single named shared-memory region at startup;
// client processes attach to the same region by name. Every pointer
// stored in a task, queue, or task-state structure that must be readable
// by another process is a region-relative offset (a Pointer), never an
// absolute process pointer — this is the invariant the whole package
// exists to enforce.
package hshm

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is a single mmap'd arena of bytes, either anonymous (in-process
// only, used by tests and single-process clients) or file-backed and
// named, so a second process can attach to the same bytes.
type Region struct {
	name string
	data []byte
	fd   int // -1 for anonymous regions
}

// CreateAnonymous maps size bytes of anonymous, process-private memory.
// Used when no other process needs to attach (single-process tests,
// embedded clients).
func CreateAnonymous(size int) (*Region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("hshm: mmap anonymous region: %w", err)
	}
	return &Region{name: "", data: data, fd: -1}, nil
}

// Create creates (or truncates) a named, file-backed region at path and
// maps size bytes of it MAP_SHARED, so other processes opening the same
// path can attach to the identical bytes.
func Create(path string, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("hshm: create region file %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("hshm: truncate region file %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hshm: mmap region file %s: %w", path, err)
	}
	return &Region{name: path, data: data, fd: int(f.Fd())}, nil
}

// Attach opens an existing named region created by another process with
// Create, discovering its size from the file itself.
func Attach(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("hshm: attach region file %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("hshm: stat region file %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hshm: mmap region file %s: %w", path, err)
	}
	return &Region{name: path, data: data, fd: int(f.Fd())}, nil
}

// Name returns the region's file path, or "" for an anonymous region.
func (r *Region) Name() string { return r.name }

// Size returns the mapped size in bytes.
func (r *Region) Size() int { return len(r.data) }

// Close unmaps the region. Attached (non-owning) processes should call
// this on shutdown; the backing file, if any, is left on disk.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// base returns the process-local address of offset 0, used only for
// pointer arithmetic within this package — it must never leak to another
// process.
func (r *Region) base() unsafe.Pointer {
	return unsafe.Pointer(&r.data[0])
}

// Pointer is a region-relative offset: the shared-memory equivalent of a
// pointer, safe to store in a task, queue, or task-state struct that
// another process may read, because offsets mean the same thing in every
// process's mapping of the same region.
type Pointer struct {
	Offset uint64
}

// Null is the reserved "no pointer" value, analogous to a nil pointer.
var Null = Pointer{}

// IsNull reports whether p is the null shm pointer.
func (p Pointer) IsNull() bool { return p.Offset == 0 }

// Deref converts a Pointer back into a process-local pointer within r.
// Offset 0 is reserved as null; NewAllocator starts handing out offsets
// at its alignment (8), so a zero-valued Pointer is never confused with a
// valid allocation.
func Deref[T any](r *Region, p Pointer) *T {
	if p.IsNull() {
		return nil
	}
	return (*T)(unsafe.Add(r.base(), p.Offset))
}

// ToPointer converts a process-local pointer obtained from r's own
// mapping back into a region-relative offset. Passing a pointer that did
// not come from this region's mapping is a programming error.
func ToPointer[T any](r *Region, v *T) Pointer {
	if v == nil {
		return Null
	}
	off := uintptr(unsafe.Pointer(v)) - uintptr(r.base())
	return Pointer{Offset: uint64(off)}
}
