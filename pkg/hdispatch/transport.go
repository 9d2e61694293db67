package hdispatch

import (
	"context"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/htask"
)

// Transport is the RPC layer the dispatcher drives: two verbs, one for param-bytes-only calls and one that
// carries a single bulk payload alongside them. pkg/htransport provides the
// libp2p-backed implementation; tests use an in-memory
// stub.
type Transport interface {
	// PushSmall sends a call carrying only the serialized scalar fields and
	// returns the reply's serialized scalar fields.
	PushSmall(ctx context.Context, node hids.NodeId, state hids.TaskStateId, method int, params []byte) (replyParams []byte, err error)

	// PushBulk sends a call that also carries one bulk data transfer. dir
	// selects which side writes: DirReceiverRead means the server consumes
	// bulk before running; DirReceiverWrite means the server produces a
	// bulk payload after running, returned as replyBulk.
	PushBulk(ctx context.Context, node hids.NodeId, state hids.TaskStateId, method int, params, bulk []byte, dir htask.TransferDir) (replyParams, replyBulk []byte, err error)
}
