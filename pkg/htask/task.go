package htask

// Base is embedded by every concrete task type to pick up the lifecycle
// surface. Embedding Base rather than Header directly gives concrete
// types a promoted Hdr() so generic code can recover the header through
// the Task interface without each task type writing its own accessor.
type Base struct {
	Header
}

// Hdr returns the embedded header.
func (b *Base) Hdr() *Header { return &b.Header }

// Task is the minimal capability every task value must expose so the
// worker, the queue layer, and the dispatcher can operate on it without
// knowing its concrete type. Concrete task types get this for
// free by embedding Base; they override GetGroup by defining their own
// method, which shadows Base's default.
type Task interface {
	Hdr() *Header
	GetGroup() GroupKey
}

// NewBase wraps a copy of h in a Base, for callers constructing a
// concrete task from a header built with NewHeader.
func NewBase(h Header) Base { return Base{Header: h} }
