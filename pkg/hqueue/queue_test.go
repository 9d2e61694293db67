package hqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hshm"
)

func testQueue(lanes, depth int) *Queue {
	id := hids.NewQueueId(hids.UniqueId{NodeId: 1, Unique: 1})
	return New(id, []GroupConfig{
		{Prio: LowLatency, NumLanes: lanes, Depth: depth},
	})
}

func handleFor(off uint64) Handle {
	return Handle{Task: hshm.Pointer{Offset: off}}
}

// Emplace picks the lane by laneHash mod the group's lane count.
func TestEmplaceSelectsLaneByHash(t *testing.T) {
	q := testQueue(4, 8)

	_, err := q.Emplace(LowLatency, 6, []Handle{handleFor(1)}, false)
	require.NoError(t, err)

	h, ok := q.Group(LowLatency).Lane(6 % 4).Peek(0)
	require.True(t, ok)
	require.Equal(t, uint64(1), h.Task.Offset)

	for i := 0; i < 4; i++ {
		if i == 6%4 {
			continue
		}
		_, ok := q.Group(LowLatency).Lane(i).Peek(0)
		require.Falsef(t, ok, "lane %d should be empty", i)
	}
}

// A group not named in the queue's configuration is created disabled and
// rejects emplacement.
func TestEmplaceOnDisabledGroupFails(t *testing.T) {
	q := testQueue(1, 8)
	_, err := q.Emplace(Admin, 0, []Handle{handleFor(1)}, false)
	require.Error(t, err)
}

// A lane-all emplacement puts one handle on every lane of the group.
func TestEmplaceLaneAllFansOut(t *testing.T) {
	q := testQueue(4, 8)
	handles := []Handle{handleFor(1), handleFor(2), handleFor(3), handleFor(4)}
	toks, err := q.Emplace(LowLatency, 0, handles, true)
	require.NoError(t, err)
	require.Len(t, toks, 4)
	for i := 0; i < 4; i++ {
		h, ok := q.Group(LowLatency).Lane(i).Peek(0)
		require.True(t, ok)
		require.Equal(t, uint64(i+1), h.Task.Offset)
	}
}

// EmplaceFrac refuses to push once the chosen lane is over half full,
// instead of spin-waiting the way Emplace does.
func TestEmplaceFracRefusesPastHalfFull(t *testing.T) {
	q := testQueue(1, 8)
	for i := 0; i < 5; i++ {
		_, err := q.EmplaceFrac(LowLatency, 0, handleFor(uint64(i+1)))
		require.NoError(t, err)
	}
	_, err := q.EmplaceFrac(LowLatency, 0, handleFor(99))
	require.Error(t, err)
}

// Producers spin while the Resize plug bit is held and proceed once it
// clears.
func TestEmplaceSpinsWhileResizing(t *testing.T) {
	q := testQueue(1, 8)
	q.BeginResize()

	done := make(chan struct{})
	go func() {
		_, _ = q.Emplace(LowLatency, 0, []Handle{handleFor(1)}, false)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("emplace completed while the resize plug was held")
	case <-time.After(20 * time.Millisecond):
	}

	q.EndResize()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emplace never completed after the resize plug cleared")
	}
}
