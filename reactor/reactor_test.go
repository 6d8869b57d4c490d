package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSignalWakesInterruptSource(t *testing.T) {
	ctx, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, ctx.InterruptSource().Open())
	defer ctx.InterruptSource().Close()

	ctx.Signal(Terminate)

	buf := make([]byte, 16)
	n, err := unix.Read(int(ctx.InterruptSource().ReadFD()), buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('x'), buf[0])
}

func TestSignalOutOfRangeIsIgnored(t *testing.T) {
	ctx, err := New(nil)
	require.NoError(t, err)
	ctx.Signal(End) // End is the sentinel, out of [0, End)
	require.Equal(t, uint64(0), ctx.SwapSignals())
}

func TestSignalMaskCoalesces(t *testing.T) {
	ctx, err := New(nil)
	require.NoError(t, err)
	ctx.Signal(Terminate)
	ctx.Signal(Terminate)
	ctx.Signal(User1)

	mask := ctx.SwapSignals()
	require.Equal(t, uint64(1<<Terminate|1<<User1), mask)
	require.Equal(t, uint64(0), ctx.SwapSignals(), "mask must be cleared by the swap")
}

func TestToMillis(t *testing.T) {
	require.Equal(t, -1, toMillis(-1))
	require.Equal(t, 0, toMillis(0))
	require.Equal(t, 5, toMillis(5*time.Millisecond))
}

func TestRunExitsOnceScopeEmptiesAndNoTimersArmed(t *testing.T) {
	ctx, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, ctx.InterruptSource().Open())
	defer ctx.InterruptSource().Close()

	ctx.Scope.Spawn()
	go func() {
		time.Sleep(10 * time.Millisecond)
		ctx.Scope.Done()
	}()

	done := make(chan error, 1)
	go func() { done <- ctx.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after scope emptied")
	}
}

func TestISRRunsRoutineOncePerReadinessAndStopsOnFalse(t *testing.T) {
	ctx, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, ctx.InterruptSource().Open())
	defer ctx.InterruptSource().Close()

	dialog, err := ctx.Poller.Emplace(ctx.InterruptSource().ReadFD())
	require.NoError(t, err)

	var calls int
	ctx.ISR(dialog, func() bool {
		calls++
		ctx.InterruptSource().Drain()
		return calls < 3
	})

	require.Equal(t, int64(1), ctx.Scope.InFlight())

	for i := 0; i < 2; i++ {
		require.NoError(t, ctx.InterruptSource().Interrupt())
		_, err := ctx.Poller.WaitFor(1000)
		require.NoError(t, err)
	}

	require.Equal(t, 3, calls)
	require.Equal(t, int64(0), ctx.Scope.InFlight(), "chain must retire its single spawn once routine returns false")
}
