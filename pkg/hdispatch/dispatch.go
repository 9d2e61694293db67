package hdispatch

import (
	"context"
	"fmt"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hruntime"
	"github.com/hstor/hrun/pkg/htask"
)

// Dispatcher is the remote dispatcher: the worker's egress path for a
// task whose domain resolves off this node, and the RPC handler's ingress
// path for a task received from a remote worker.
type Dispatcher struct {
	Local     hids.NodeId
	NumNodes  int
	Registry  *hregistry.Registry
	Runtime   *hruntime.Runtime
	Transport Transport
	log       *hlog.Logger
}

// New builds a dispatcher bound to the given transport and runtime façade.
// numNodes is the cluster size, consulted only when resolving DomainGlobal.
func New(local hids.NodeId, numNodes int, registry *hregistry.Registry, rt *hruntime.Runtime, transport Transport, log *hlog.Logger) *Dispatcher {
	return &Dispatcher{Local: local, NumNodes: numNodes, Registry: registry, Runtime: rt, Transport: transport, log: log}
}

// ResolveDomain expands domain to the NodeIds a worker's dispatch of a task
// carrying it must reach, implementing hworker.Dispatcher.
func (d *Dispatcher) ResolveDomain(domain hids.DomainId) []hids.NodeId {
	return ResolveDomain(domain, d.Local, d.NumNodes)
}

// Egress sends task to every node in targets and folds the replies back
// onto it. The caller (the worker's dispatch
// loop) has already set DisableRun|Unordered and cleared Coroutine on task.
func (d *Dispatcher) Egress(ctx context.Context, task htask.Task, state htask.State, targets []hids.NodeId) error {
	hdr := task.Hdr()
	method := hdr.Method

	if err := state.ReplicateStart(method, len(targets), task); err != nil {
		return fmt.Errorf("hdispatch: replicate start: %w", err)
	}

	for _, node := range targets {
		if err := d.egressOne(ctx, node, method, task, state); err != nil {
			return err
		}
	}

	if err := state.ReplicateEnd(method, task); err != nil {
		return fmt.Errorf("hdispatch: replicate end: %w", err)
	}
	hdr.SetFlag(htask.ModuleComplete)
	return nil
}

func (d *Dispatcher) egressOne(ctx context.Context, node hids.NodeId, method int, task htask.Task, state htask.State) error {
	hdr := task.Hdr()
	save := htask.NewSaveArchive()
	if err := state.SaveStart(method, save, task); err != nil {
		return fmt.Errorf("hdispatch: save start for node %s: %w", node, err)
	}
	params := save.Bytes()

	var (
		replyParams []byte
		transfers   []htask.DataTransfer
		err         error
	)
	switch len(save.Transfers) {
	case 0:
		replyParams, err = d.Transport.PushSmall(ctx, node, hdr.TaskState, method, params)
	case 1:
		tr := save.Transfers[0]
		var replyBulk []byte
		replyParams, replyBulk, err = d.Transport.PushBulk(ctx, node, hdr.TaskState, method, params, tr.Data, tr.Dir)
		if tr.Dir == htask.DirReceiverWrite && replyBulk != nil {
			copy(tr.Data, replyBulk)
		}
		transfers = []htask.DataTransfer{tr}
	default:
		return fmt.Errorf("hdispatch: task carries %d data transfers, only 0 or 1 is supported per replica", len(save.Transfers))
	}
	if err != nil {
		return fmt.Errorf("hdispatch: rpc to node %s: %w", node, err)
	}

	load := htask.NewLoadArchive(replyParams, transfers)
	if err := state.LoadEnd(method, load, task); err != nil {
		return fmt.Errorf("hdispatch: load end from node %s: %w", node, err)
	}
	return nil
}

// Ingress is the RPC handler's entry point: it
// reconstructs a task from wire bytes, runs it to completion locally as a
// fresh submission, and serializes the result back. bulk/dir are nil/zero
// for a small (param-bytes-only) call.
func (d *Dispatcher) Ingress(ctx context.Context, stateId hids.TaskStateId, method int, params, bulk []byte, dir htask.TransferDir) (replyParams, replyBulk []byte, err error) {
	state, ok := d.Registry.GetTaskState(stateId)
	if !ok {
		// Unknown state: empty payload, the client treats this as fatal.
		return nil, nil, nil
	}

	task, err := state.New(method)
	if err != nil {
		return nil, nil, fmt.Errorf("hdispatch: construct task for method %d: %w", method, err)
	}

	var transfers []htask.DataTransfer
	if bulk != nil {
		transfers = []htask.DataTransfer{{Dir: dir, Data: bulk}}
	}
	load := htask.NewLoadArchive(params, transfers)
	if err := state.LoadStart(method, load, task); err != nil {
		return nil, nil, fmt.Errorf("hdispatch: load start: %w", err)
	}

	hdr := task.Hdr()
	hdr.TaskState = stateId
	hdr.Method = method
	hdr.Domain = hids.Local()
	hdr.ClearFlag(htask.DataOwner | htask.LongRunning | htask.HasStarted | htask.DisableRun)

	_, ptr, err := hruntime.NewTask(d.Runtime, task)
	if err != nil {
		return nil, nil, fmt.Errorf("hdispatch: allocate ingress task handle: %w", err)
	}
	if err := d.Runtime.Submit(ptr, task); err != nil {
		return nil, nil, fmt.Errorf("hdispatch: emplace ingress task: %w", err)
	}

	// Await completion. There is no enclosing task context on this goroutine
	// (the RPC handler, not a worker's cooperative loop), so Wait falls back
	// to a plain Gosched spin.
	hdr.Wait(nil)

	save := htask.NewSaveArchive()
	if err := state.SaveEnd(method, save, task); err != nil {
		return nil, nil, fmt.Errorf("hdispatch: save end: %w", err)
	}
	d.Runtime.DelTask(ptr)

	replyParams = save.Bytes()
	if len(save.Transfers) > 0 {
		replyBulk = save.Transfers[0].Data
	}
	return replyParams, replyBulk, nil
}
