package hregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/htask"
)

type stubState struct{ ran int }

func (s *stubState) Run(context.Context, int, htask.Task, *htask.RunCtx) error { s.ran++; return nil }
func (s *stubState) New(int) (htask.Task, error)                              { return nil, nil }
func (s *stubState) Del(int, htask.Task)                                      {}
func (s *stubState) SaveStart(int, *htask.Archive, htask.Task) error          { return nil }
func (s *stubState) LoadStart(int, *htask.Archive, htask.Task) error          { return nil }
func (s *stubState) SaveEnd(int, *htask.Archive, htask.Task) error            { return nil }
func (s *stubState) LoadEnd(int, *htask.Archive, htask.Task) error            { return nil }
func (s *stubState) GetGroup(int, htask.Task) htask.GroupKey                  { return htask.GroupKey{Unordered: true} }
func (s *stubState) ReplicateStart(int, int, htask.Task) error                { return nil }
func (s *stubState) ReplicateEnd(int, htask.Task) error                       { return nil }
func (s *stubState) Dup(int, htask.Task) (htask.Task, error)                  { return nil, nil }
func (s *stubState) DupEnd(int, htask.Task, htask.Task) error                 { return nil }

func TestRegistryCreateAndLookup(t *testing.T) {
	r := New(16)
	require.NoError(t, r.RegisterLib("stub", func(name string) htask.State { return &stubState{} }))

	id, err := r.CreateTaskState(hids.NodeId(1), "stub", "my_state")
	require.NoError(t, err)
	require.False(t, id.IsNull())

	st, ok := r.GetTaskState(id)
	require.True(t, ok)
	require.NotNil(t, st)

	require.True(t, r.TaskStateExists(id, "my_state"))
	require.False(t, r.TaskStateExists(hids.UniqueId{NodeId: 9, Unique: 9}, "nonexistent"))
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := New(16)
	require.NoError(t, r.RegisterLib("stub", func(name string) htask.State { return &stubState{} }))

	id1, err := r.GetOrCreateTaskStateId(hids.NodeId(1), "stub", "shared")
	require.NoError(t, err)
	id2, err := r.GetOrCreateTaskStateId(hids.NodeId(1), "stub", "shared")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestRegistryDestroyTaskState(t *testing.T) {
	r := New(16)
	require.NoError(t, r.RegisterLib("stub", func(name string) htask.State { return &stubState{} }))
	id, err := r.CreateTaskState(hids.NodeId(1), "stub", "gone_soon")
	require.NoError(t, err)

	require.NoError(t, r.DestroyTaskState(id))
	_, ok := r.GetTaskState(id)
	require.False(t, ok)

	err = r.DestroyTaskState(id)
	require.Error(t, err)
}

func TestRegistryDuplicateLibRejected(t *testing.T) {
	r := New(16)
	require.NoError(t, r.RegisterLib("stub", func(name string) htask.State { return &stubState{} }))
	require.Error(t, r.RegisterLib("stub", func(name string) htask.State { return &stubState{} }))
}
