// Package hlane implements the bounded, lock-free, multi-producer /
// single-consumer ring that backs every queue lane. Producers reserve a
// slot with an atomic fetch-and-increment of tail, spin-yielding if the
// ring is full; the slot carries a "ready" bit so the single consumer
// never observes a half-written entry; the consumer advances head only
// after observing that bit, and may peek without advancing it, which
// coroutine tasks need in order to stay queued across suspensions.
package hlane

import (
	"runtime"
	"sync/atomic"
)

// Entry is one slot of the ring: a task handle plus the readiness bit the
// producer sets after the handle is fully written.
type Entry[T any] struct {
	ready atomic.Bool
	val   T
}

// Lane is a bounded MPSC ring of depth slots. At most one worker may ever
// consume a given lane; any number of producers may
// emplace concurrently.
type Lane[T any] struct {
	slots []Entry[T]
	depth uint64
	tail  atomic.Uint64
	head  atomic.Uint64
}

// NewLane creates a lane with the given fixed depth.
func NewLane[T any](depth int) *Lane[T] {
	if depth <= 0 {
		depth = 1
	}
	return &Lane[T]{slots: make([]Entry[T], depth), depth: uint64(depth)}
}

// Depth returns the lane's fixed capacity.
func (l *Lane[T]) Depth() int { return int(l.depth) }

// Len returns the number of entries currently queued (best-effort; may be
// stale under concurrent producers).
func (l *Lane[T]) Len() int {
	return int(l.tail.Load() - l.head.Load())
}

// Emplace reserves the next slot and writes val into it. If the lane is
// full (tail - head >= depth), it cooperatively spin-yields until space
// appears. The lane itself never returns a queue-full error; backpressure
// is handled by EmplaceFrac at the queue layer.
func (l *Lane[T]) Emplace(val T) uint64 {
	tail := l.tail.Add(1) - 1
	for tail-l.head.Load() >= l.depth {
		runtime.Gosched()
	}
	idx := tail % l.depth
	slot := &l.slots[idx]
	slot.val = val
	slot.ready.Store(true)
	return tail
}

// Fraction reports how full the lane is, in [0, 1], used by
// Queue.EmplaceFrac to refuse pushes past half capacity and avoid
// self-deadlock in the runtime's own schedulers.
func (l *Lane[T]) Fraction() float64 {
	return float64(l.tail.Load()-l.head.Load()) / float64(l.depth)
}

// Peek examines the entry at head+offset without advancing head. ok is
// false if there is no such entry yet, or if the producer has reserved
// the slot but not yet finished writing it.
func (l *Lane[T]) Peek(offset int) (val T, ok bool) {
	head := l.head.Load() + uint64(offset)
	if head >= l.tail.Load() {
		return val, false
	}
	slot := &l.slots[head%l.depth]
	if !slot.ready.Load() {
		return val, false
	}
	return slot.val, true
}

// PeekPtr is like Peek but returns a pointer directly into the slot so the
// owning worker can mutate the entry in place (e.g. flip a "complete"
// flag embedded in T) without a second allocation or copy. Only the owning
// worker may call this; any other caller would race with Pop's clearing of
// the ready bit.
func (l *Lane[T]) PeekPtr(offset int) (val *T, ok bool) {
	head := l.head.Load() + uint64(offset)
	if head >= l.tail.Load() {
		return nil, false
	}
	slot := &l.slots[head%l.depth]
	if !slot.ready.Load() {
		return nil, false
	}
	return &slot.val, true
}

// Pop advances head by exactly one, if the head slot is ready. Only the
// owning worker may call Pop. Returns false if the lane is empty or the
// head slot's producer hasn't finished writing yet.
func (l *Lane[T]) Pop() (val T, ok bool) {
	head := l.head.Load()
	if head >= l.tail.Load() {
		return val, false
	}
	slot := &l.slots[head%l.depth]
	if !slot.ready.Load() {
		return val, false
	}
	val = slot.val
	slot.ready.Store(false)
	l.head.Add(1)
	return val, true
}
