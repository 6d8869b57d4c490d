package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInterrupter struct{ n atomic.Int64 }

func (c *countingInterrupter) Interrupt() error {
	c.n.Add(1)
	return nil
}

func TestAddReturnsFreshIDThenRecycles(t *testing.T) {
	s := New()
	id0 := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, uint64(0), id0)

	id1 := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, uint64(1), id1)

	require.Equal(t, Invalid, s.Remove(id0))
	s.Resolve() // reclaims id0: an unarmed heap-top entry is popped whatever its expiry

	// A cancelled past-due entry is reclaimed into freeIDs the same way.
	s2 := New()
	due := s2.Add(time.Now().Add(-time.Millisecond), func(uint64) {}, 0)
	require.Equal(t, Invalid, s2.Remove(due))
	s2.Resolve()
	reused := s2.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, due, reused, "recycled id should be reused before a fresh one is allocated")
}

func TestRemoveOutOfRangeIsNoop(t *testing.T) {
	s := New()
	require.Equal(t, uint64(42), s.Remove(42))
}

func TestRemoveTwiceIsIdempotent(t *testing.T) {
	s := New()
	id := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, Invalid, s.Remove(id))
	require.Equal(t, Invalid, s.Remove(Invalid))
}

func TestResolveReturnsMinusOneWhenNoArmedTimers(t *testing.T) {
	s := New()
	require.Equal(t, time.Duration(-1), s.Resolve())
}

func TestResolveFiresDueHandlerAndClearsOneShot(t *testing.T) {
	s := New()
	var fired atomic.Bool
	s.Add(time.Now().Add(-time.Millisecond), func(uint64) { fired.Store(true) }, 0)

	s.Resolve()
	require.True(t, fired.Load())

	// A one-shot timer's id is recyclable after firing.
	reused := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, uint64(0), reused)
}

func TestCancelBeforeFireSuppressesHandler(t *testing.T) {
	s := New()
	var fired atomic.Bool
	id := s.Add(time.Now().Add(-time.Millisecond), func(uint64) { fired.Store(true) }, 0)
	require.Equal(t, Invalid, s.Remove(id))
	s.Resolve()
	require.False(t, fired.Load(), "remove before resolve must suppress the fire")
}

func TestPeriodicTimerRearmsAtFirePlusPeriod(t *testing.T) {
	s := New()
	var fires atomic.Int64
	start := time.Now().Add(-time.Millisecond)
	id := s.Add(start, func(uint64) { fires.Add(1) }, 10*time.Millisecond)

	s.Resolve()
	require.Equal(t, int64(1), fires.Load())

	time.Sleep(15 * time.Millisecond)
	s.Resolve()
	require.Equal(t, int64(2), fires.Load())

	require.Equal(t, Invalid, s.Remove(id))
	time.Sleep(15 * time.Millisecond)
	s.Resolve()
	require.Equal(t, int64(2), fires.Load(), "cancelled periodic timer must not fire again")
}

func TestResolveWaitHintIsNonNegativeAndClamped(t *testing.T) {
	s := New()
	s.Add(time.Now().Add(5*time.Millisecond), func(uint64) {}, 0)
	wait := s.Resolve()
	require.GreaterOrEqual(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, 5*time.Millisecond)
}

func TestAddAlwaysInterrupts(t *testing.T) {
	s := New()
	ci := &countingInterrupter{}
	s.SetInterrupter(ci)
	s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, int64(1), ci.n.Load())
}

func TestHandlerMayCallBackIntoAddRemoveWithoutDeadlock(t *testing.T) {
	s := New()
	done := make(chan struct{})
	s.Add(time.Now().Add(-time.Millisecond), func(id uint64) {
		s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
		s.Remove(id)
		close(done)
	}, 0)

	finished := make(chan struct{})
	go func() {
		s.Resolve()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("resolve deadlocked when handler called back into add/remove")
	}
	<-done
}

func TestConcurrentAddRemoveIsSafe(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
			s.Remove(id)
		}()
	}
	wg.Wait()
}

func TestSwapExchangesState(t *testing.T) {
	a := New()
	b := New()
	idA := a.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	a.Swap(b)
	require.Equal(t, 0, a.Len())
	require.Equal(t, 1, b.Len())
	require.Equal(t, Invalid, b.Remove(idA))
}

func TestSwapWithSelfIsNoop(t *testing.T) {
	s := New()
	s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	s.Swap(s)
	require.Equal(t, 1, s.Len())
}

func TestResolveReturnsMinusOneWhenOnlyUnarmedFutureEntryRemains(t *testing.T) {
	s := New()
	var fired atomic.Bool
	s.Add(time.Now().Add(5*time.Millisecond), func(uint64) { fired.Store(true) }, 0)
	far := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, Invalid, s.Remove(far))

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, time.Duration(-1), s.Resolve(), "a cancelled future entry must not mask an empty armed set")
	require.True(t, fired.Load())

	// Both the fired near entry and the cancelled far entry must have
	// been reclaimed into freeIDs, not left stranded in the heap: two
	// fresh adds reuse them instead of growing the events slice.
	before := s.Len()
	s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, before, s.Len(), "both reclaimed ids must be reused before the events slice grows")
}

type recordingGauge struct {
	mu   sync.Mutex
	last float64
}

func (g *recordingGauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = v
}

func (g *recordingGauge) value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func TestGaugeTracksArmedCountAcrossAddRemoveResolve(t *testing.T) {
	s := New()
	g := &recordingGauge{}
	s.SetGauge(g)
	require.Equal(t, float64(0), g.value())

	idA := s.Add(time.Now().Add(time.Hour), func(uint64) {}, 0)
	require.Equal(t, float64(1), g.value())

	s.Add(time.Now().Add(-time.Millisecond), func(uint64) {}, 0)
	require.Equal(t, float64(2), g.value())

	s.Resolve() // fires and reclaims the due one-shot
	require.Equal(t, float64(1), g.value())

	require.Equal(t, Invalid, s.Remove(idA))
	require.Equal(t, float64(0), g.value())
}

func TestResolveHeapPopOrder(t *testing.T) {
	s := New()
	var order []int
	var mu sync.Mutex
	now := time.Now()
	s.Add(now.Add(-3*time.Millisecond), func(uint64) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	}, 0)
	s.Add(now.Add(-2*time.Millisecond), func(uint64) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}, 0)
	s.Add(now.Add(-1*time.Millisecond), func(uint64) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	}, 0)
	s.Resolve()
	assert.Equal(t, []int{3, 2, 1}, order, "ties aside, earlier expiries must fire first")
}
