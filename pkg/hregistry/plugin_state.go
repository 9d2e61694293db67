package hregistry

import (
	"context"
	"fmt"

	"github.com/hstor/hrun/pkg/htask"
)

// RawTask is the extra capability a task type must implement to run under
// an externally-loaded (plugin) task library: since the library lives in
// a separate process, its State can't type-assert back to the task's own
// concrete Go type the way an in-process State does (see
// pkg/states/smallmessage/state.go), so the task has to be able to encode
// and decode itself as plain bytes plus a buffer list.
type RawTask interface {
	htask.Task
	Encode() (params []byte, transfers [][]byte, err error)
	Decode(params []byte, transfers [][]byte) error
}

// pluginState adapts a plugin-loaded TaskLib to htask.State. Every method
// on the htask.State surface that needs to touch task-specific data
// requires the task to implement RawTask; everything else is forwarded
// to the subprocess as-is.
type pluginState struct {
	lib TaskLib
}

func (p *pluginState) Run(_ context.Context, method int, task htask.Task, _ *htask.RunCtx) error {
	rt, ok := task.(RawTask)
	if !ok {
		return fmt.Errorf("hregistry: task %T does not implement RawTask, cannot run under plugin %q", task, p.lib.Name())
	}
	params, transfers, err := rt.Encode()
	if err != nil {
		return fmt.Errorf("hregistry: encode: %w", err)
	}
	result, outTransfers, err := p.lib.Invoke(method, params, transfers)
	if err != nil {
		return fmt.Errorf("hregistry: plugin %q invoke: %w", p.lib.Name(), err)
	}
	if err := rt.Decode(result, outTransfers); err != nil {
		return fmt.Errorf("hregistry: decode: %w", err)
	}
	task.Hdr().SetFlag(htask.ModuleComplete)
	return nil
}

func (p *pluginState) New(method int) (htask.Task, error) {
	return nil, fmt.Errorf("hregistry: plugin-backed task states do not support ingress task reconstruction")
}

func (p *pluginState) Del(method int, task htask.Task) {}

func (p *pluginState) SaveStart(method int, ar *htask.Archive, task htask.Task) error {
	rt, ok := task.(RawTask)
	if !ok {
		return fmt.Errorf("hregistry: task %T does not implement RawTask", task)
	}
	params, transfers, err := rt.Encode()
	if err != nil {
		return err
	}
	for _, tr := range transfers {
		ar.AddTransfer(htask.DataTransfer{Dir: htask.DirReceiverRead, Data: tr})
	}
	return ar.Put(params)
}

func (p *pluginState) LoadStart(method int, ar *htask.Archive, task htask.Task) error {
	rt, ok := task.(RawTask)
	if !ok {
		return fmt.Errorf("hregistry: task %T does not implement RawTask", task)
	}
	var params []byte
	if err := ar.Get(&params); err != nil {
		return err
	}
	transfers := make([][]byte, len(ar.Transfers))
	for i, tr := range ar.Transfers {
		transfers[i] = tr.Data
	}
	return rt.Decode(params, transfers)
}

func (p *pluginState) SaveEnd(method int, ar *htask.Archive, task htask.Task) error {
	return p.SaveStart(method, ar, task)
}

func (p *pluginState) LoadEnd(method int, ar *htask.Archive, task htask.Task) error {
	return p.LoadStart(method, ar, task)
}

func (p *pluginState) GetGroup(method int, task htask.Task) htask.GroupKey {
	return task.GetGroup()
}

func (p *pluginState) ReplicateStart(method int, count int, task htask.Task) error { return nil }
func (p *pluginState) ReplicateEnd(method int, task htask.Task) error              { return nil }

func (p *pluginState) Dup(method int, task htask.Task) (htask.Task, error) {
	return nil, fmt.Errorf("hregistry: Dup is not supported for plugin-backed task states")
}

func (p *pluginState) DupEnd(method int, replica htask.Task, task htask.Task) error {
	return fmt.Errorf("hregistry: DupEnd is not supported for plugin-backed task states")
}
