package htask

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hqueue"
)

func newTestHeader() *Header {
	node := hids.NewRootTaskNode(hids.UniqueId{NodeId: 1, Hash: 1, Unique: 1})
	return NewHeader(hids.TaskStateId{NodeId: 1, Hash: 1, Unique: 1}, node, hids.Local(), hqueue.LowLatency, 0, 0)
}

func TestHeaderFlagsSetClearHas(t *testing.T) {
	h := newTestHeader()
	require.False(t, h.Has(Complete))
	h.SetFlag(Complete)
	require.True(t, h.Has(Complete))
	require.True(t, h.IsComplete())
	h.SetFlag(FireAndForget | DataOwner)
	require.True(t, h.Has(FireAndForget))
	require.True(t, h.Has(DataOwner))
	h.ClearFlag(DataOwner)
	require.False(t, h.Has(DataOwner))
	require.True(t, h.Has(FireAndForget))
}

// A waiter blocked in Wait observes completion exactly once SetComplete
// has been called, never before.
func TestHeaderWaitObservesComplete(t *testing.T) {
	h := newTestHeader()
	yields := 0
	callerYield := func() { yields++ }

	done := make(chan struct{})
	go func() {
		h.Wait(callerYield)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned before SetComplete")
	default:
	}
	h.SetComplete()
	<-done
	require.Greater(t, yields, 0)
}

func TestHeaderShouldRunNonLongRunningAlwaysRuns(t *testing.T) {
	h := newTestHeader()
	require.True(t, h.ShouldRun(time.Now(), false))
	require.True(t, h.ShouldRun(time.Now(), true))
}

func TestHeaderShouldRunLongRunningRespectsPeriod(t *testing.T) {
	h := newTestHeader()
	h.SetFlag(LongRunning)
	h.PeriodNs = 50 * time.Millisecond
	now := time.Now()
	require.True(t, h.ShouldRun(now, false), "first run before DidRun should always fire")
	h.DidRun(now)
	require.False(t, h.ShouldRun(now, false))
	require.True(t, h.ShouldRun(now.Add(100*time.Millisecond), false))
	require.True(t, h.ShouldRun(now, true), "flushing forces a run regardless of period")
}

func TestHeaderGetGroupDefaultUnordered(t *testing.T) {
	h := newTestHeader()
	g := h.GetGroup()
	require.True(t, g.Unordered)
}
