// Package hdispatch implements the remote dispatcher: the egress path
// that serializes a task targeting a remote node, sends it over the
// transport, and folds the reply back onto the originating task; and the
// ingress path that reconstructs a task from wire bytes, runs it locally,
// and serializes the result back. The two RPC verbs it drives
// (PushSmall/PushBulk) are declared abstractly here (Transport) and
// implemented concretely over libp2p in pkg/htransport.
package hdispatch

import (
	"github.com/hstor/hrun/pkg/hids"
)

// ResolveDomain expands a DomainId to the concrete NodeIds a dispatch must
// reach. numNodes is the cluster size (for
// DomainGlobal).
func ResolveDomain(d hids.DomainId, local hids.NodeId, numNodes int) []hids.NodeId {
	switch d.Kind {
	case hids.DomainLocal:
		return []hids.NodeId{local}
	case hids.DomainNode:
		return []hids.NodeId{d.Node}
	case hids.DomainNodeSet:
		out := append([]hids.NodeId(nil), d.Set...)
		if d.IncludeLocal && !contains(out, local) {
			out = append(out, local)
		}
		return out
	case hids.DomainGlobal:
		out := make([]hids.NodeId, 0, numNodes)
		for n := 1; n <= numNodes; n++ {
			out = append(out, hids.NodeId(n))
		}
		return out
	default:
		return nil
	}
}

func contains(nodes []hids.NodeId, n hids.NodeId) bool {
	for _, x := range nodes {
		if x == n {
			return true
		}
	}
	return false
}
