// Package hids defines the identifier types that name every addressable
// object in the hrun task runtime: nodes, task states, queues, tasks, and
// a task's position within its task graph.
//
// TaskStateId, QueueId and TaskId share the same (node, hash, unique)
// shape, so they are all backed by the same UniqueId struct with named
// constructors.
package hids

import "fmt"

// NodeId is a 1-based index into the host list. Zero is the
// null/unassigned node.
type NodeId uint32

// NullNode is the reserved "no node" value.
const NullNode NodeId = 0

// IsNull reports whether n is the reserved null node id.
func (n NodeId) IsNull() bool { return n == NullNode }

func (n NodeId) String() string { return fmt.Sprintf("node-%d", uint32(n)) }

// UniqueId is the common (node_id, hash, unique) shape shared by
// TaskStateId, QueueId and TaskId. node_id is the home node of
// the object; hash deterministically partitions it across lanes; unique
// distinguishes objects created on the same node.
type UniqueId struct {
	NodeId NodeId
	Hash   uint32
	Unique uint64
}

// IsNull reports whether id has no node assigned and a zero Unique; Hash
// is not consulted.
func (id UniqueId) IsNull() bool {
	return id.NodeId.IsNull() && id.Unique == 0
}

func (id UniqueId) String() string {
	return fmt.Sprintf("%d.%d.%d", id.NodeId, id.Hash, id.Unique)
}

// TaskStateId names a task-state instance. Its node is the state's home
// node; lookups on other nodes must route there.
type TaskStateId = UniqueId

// QueueId names a queue. A queue's id is always derived from the owning
// task state's id (NewQueueId below), so lookup from a TaskStateId is O(1).
type QueueId = UniqueId

// TaskId names an individual task.
type TaskId = UniqueId

// NewQueueId derives a QueueId from the TaskStateId that owns the queue.
// The shapes are identical; this exists so call sites read as intent
// rather than an implicit type conversion.
func NewQueueId(state TaskStateId) QueueId { return QueueId(state) }

// NullUniqueId is the null value shared by TaskStateId/QueueId/TaskId.
var NullUniqueId = UniqueId{}

// TaskNode identifies a task's position within a task graph: the id of the
// root task plus a depth. Depth 0 is the root; children increment depth.
// A task's TaskNode is immutable for its lifetime;
// replicas produced by remote dispatch carry the parent's TaskNode, or the
// parent's with depth+1 for sub-tasks spawned inside a Run.
type TaskNode struct {
	Root  TaskId
	Depth uint32
}

// NewRootTaskNode returns the TaskNode for a freshly-minted root task.
func NewRootTaskNode(root TaskId) TaskNode {
	return TaskNode{Root: root, Depth: 0}
}

// Child returns the TaskNode for a task spawned by a task with node n.
func (n TaskNode) Child() TaskNode {
	return TaskNode{Root: n.Root, Depth: n.Depth + 1}
}

func (n TaskNode) String() string {
	return fmt.Sprintf("%s@%d", n.Root, n.Depth)
}

// DomainKind enumerates the routing targets a DomainId can name.
type DomainKind int

const (
	// DomainLocal routes to the local node only.
	DomainLocal DomainKind = iota
	// DomainNode routes to one specific node.
	DomainNode
	// DomainNodeSet routes to a named set of nodes.
	DomainNodeSet
	// DomainGlobal routes to every node in the cluster.
	DomainGlobal
)

// DomainId is a routing target: local, a specific node, a named node-set,
// or the global set of nodes, with an optional include-local bit.
// The runtime resolves a DomainId to one or more NodeIds when
// dispatching (see hdispatch.ResolveDomain).
type DomainId struct {
	Kind         DomainKind
	Node         NodeId
	Set          []NodeId
	IncludeLocal bool
}

// Local builds a DomainId that targets the local node only.
func Local() DomainId { return DomainId{Kind: DomainLocal} }

// OfNode builds a DomainId that targets one specific node.
func OfNode(n NodeId) DomainId { return DomainId{Kind: DomainNode, Node: n} }

// OfNodeSet builds a DomainId that targets a named set of nodes.
func OfNodeSet(nodes []NodeId, includeLocal bool) DomainId {
	return DomainId{Kind: DomainNodeSet, Set: nodes, IncludeLocal: includeLocal}
}

// Global builds a DomainId that targets every node in the cluster.
func Global(includeLocal bool) DomainId {
	return DomainId{Kind: DomainGlobal, IncludeLocal: includeLocal}
}

// IsLocalOnly reports whether the domain can only ever resolve to the
// given local node, without consulting cluster topology. Workers use this
// as the fast path to decide whether a task needs the remote dispatcher.
func (d DomainId) IsLocalOnly(local NodeId) bool {
	switch d.Kind {
	case DomainLocal:
		return true
	case DomainNode:
		return d.Node == local
	default:
		return false
	}
}
