// Package timer implements the reactor's concurrent min-ordered timer set:
// id recycling, periodic rearm, lazy cancellation, and an interrupt source
// that wakes a sleeping reactor whenever a timer is added.
package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Invalid is the sentinel id returned by Remove and never assigned by Add.
const Invalid uint64 = ^uint64(0)

// Handler is invoked with the firing event's id. It may call back into
// Add/Remove on the same Set without deadlocking.
type Handler func(id uint64)

// Interrupter is signaled once per Add so a reactor blocked in its poll
// wakes up and re-evaluates the next wait hint. internal/ioutil's
// InterruptSource satisfies this.
type Interrupter interface {
	Interrupt() error
}

// noopInterrupter is used by Set values constructed without an
// interrupt source (e.g. in unit tests that never arm a reactor).
type noopInterrupter struct{}

func (noopInterrupter) Interrupt() error { return nil }

// Gauge receives the live count of armed timers after every Add, Remove,
// and Resolve call. prometheus.Gauge satisfies this directly, so
// internal/timer never needs to import the prometheus package itself.
type Gauge interface {
	Set(v float64)
}

type event struct {
	handler Handler
	period  time.Duration
	armed   atomic.Bool
}

// eventRef is a (expiresAt, id) pair ordered by expiresAt ascending; it is
// the unit stored in the min-heap.
type eventRef struct {
	expiresAt time.Time
	id        uint64
}

type eventHeap []eventRef

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	return h[i].expiresAt.Before(h[j].expiresAt)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(eventRef)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Set is the reactor's timer set. One mutex protects events, eventq, and
// freeIDs; armed is an atomic.Bool on each event so Remove's common path
// never blocks on a handler in flight (see phase 2 of Resolve).
type Set struct {
	mu      sync.Mutex
	events  []*event
	eventq  eventHeap
	freeIDs []uint64

	interrupt Interrupter
	gauge     Gauge
}

// New returns a timer set whose Add calls are fire-and-forget until
// SetInterrupter installs a real wakeup source.
func New() *Set {
	return &Set{interrupt: noopInterrupter{}}
}

// SetInterrupter installs the wakeup source. reactor.New calls it with the
// context's interrupt source before that source's socket pair is opened.
func (s *Set) SetInterrupter(i Interrupter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupt = i
}

// SetGauge installs the armed-timer gauge. Reports the current count
// immediately so the gauge doesn't read zero until the next mutation.
func (s *Set) SetGauge(g Gauge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauge = g
	s.reportArmed()
}

// reportArmed recomputes the live armed-timer count and reports it to the
// gauge, if one is installed. Must be called with mu held.
func (s *Set) reportArmed() {
	if s.gauge == nil {
		return
	}
	n := 0
	for _, ev := range s.events {
		if ev.armed.Load() {
			n++
		}
	}
	s.gauge.Set(float64(n))
}

// Add schedules handler to fire at when, repeating every period
// thereafter unless period is zero (one-shot). It returns the assigned id.
func (s *Set) Add(when time.Time, handler Handler, period time.Duration) uint64 {
	s.mu.Lock()
	id := s.allocID()
	ev := s.events[id]
	ev.handler = handler
	ev.period = period
	ev.armed.Store(true)
	heap.Push(&s.eventq, eventRef{expiresAt: when, id: id})
	interrupt := s.interrupt
	s.reportArmed()
	s.mu.Unlock()

	// Add always interrupts, even when called from the reactor's own
	// goroutine, so a sleeping poll is bounded to at most one further
	// wait iteration before the new timer participates in scheduling.
	_ = interrupt.Interrupt()
	return id
}

// AddAfter schedules handler to first fire after d, relative to now.
func (s *Set) AddAfter(d time.Duration, handler Handler, period time.Duration) uint64 {
	return s.Add(time.Now().Add(d), handler, period)
}

// allocID must be called with mu held.
func (s *Set) allocID() uint64 {
	if n := len(s.freeIDs); n > 0 {
		id := s.freeIDs[n-1]
		s.freeIDs = s.freeIDs[:n-1]
		return id
	}
	id := uint64(len(s.events))
	s.events = append(s.events, &event{})
	return id
}

// Remove clears armed for id and returns Invalid, the idiom being
// `tid = timers.Remove(tid)`. An out-of-range id is returned unchanged.
func (s *Set) Remove(id uint64) uint64 {
	if id == Invalid {
		return Invalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.events)) {
		return id
	}
	s.events[id].armed.Store(false)
	s.reportArmed()
	return Invalid
}

// Resolve drives one pass of the reactor's timer wheel. It must be called
// from at most one goroutine (the owning reactor). It returns -1 if no
// armed timer remains, otherwise the non-negative wait hint until the next
// expiry.
func (s *Set) Resolve() time.Duration {
	now := time.Now()

	// Phase 1: dequeue everything due, under the mutex, reclaiming dead
	// ids as we go. An unarmed top entry is popped and reclaimed
	// unconditionally, whatever its expiry -- a cancelled timer must
	// never block Resolve from reporting no armed work remains. Only an
	// armed-but-future entry stops the pass.
	s.mu.Lock()
	var due []eventRef
	for s.eventq.Len() > 0 {
		top := s.eventq[0]
		if !s.events[top.id].armed.Load() {
			heap.Pop(&s.eventq)
			s.reclaim(top.id)
			continue
		}
		if top.expiresAt.After(now) {
			break
		}
		heap.Pop(&s.eventq)
		due = append(due, top)
	}
	s.mu.Unlock()

	// Phase 2: fire handlers without the mutex held, so they may call
	// back into Add/Remove and may run arbitrarily long.
	for _, ref := range due {
		ev := s.events[ref.id]
		if !ev.armed.Load() {
			continue
		}
		ev.handler(ref.id)
		if ev.period == 0 {
			ev.armed.Store(false)
		}
	}

	// Phase 3: re-insert still-armed periodic entries, reclaim the rest.
	s.mu.Lock()
	for _, ref := range due {
		ev := s.events[ref.id]
		if ev.armed.Load() {
			heap.Push(&s.eventq, eventRef{expiresAt: ref.expiresAt.Add(ev.period), id: ref.id})
			continue
		}
		s.reclaim(ref.id)
	}
	var next time.Duration = -1
	if s.eventq.Len() > 0 {
		next = s.eventq[0].expiresAt.Sub(now)
		if next < 0 {
			next = 0
		}
	}
	s.reportArmed()
	s.mu.Unlock()
	return next
}

// reclaim must be called with mu held; it frees handler and pushes id onto
// freeIDs. Per the invariant, an id lands in freeIDs only once its event is
// both unarmed and no longer referenced from eventq.
func (s *Set) reclaim(id uint64) {
	s.events[id].handler = nil
	s.freeIDs = append(s.freeIDs, id)
}

// Len reports the number of allocated (live + free) ids, for tests.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Swap exchanges the entire state of s and other. Both mutexes are
// acquired in a fixed order (by address) so two concurrent swaps of the
// same pair can't deadlock; swapping a Set with itself is a no-op.
func (s *Set) Swap(other *Set) {
	if s == other {
		return
	}
	first, second := s, other
	if uintptr(unsafe.Pointer(first)) > uintptr(unsafe.Pointer(second)) {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	defer first.mu.Unlock()
	defer second.mu.Unlock()

	s.events, other.events = other.events, s.events
	s.eventq, other.eventq = other.eventq, s.eventq
	s.freeIDs, other.freeIDs = other.freeIDs, s.freeIDs
	s.interrupt, other.interrupt = other.interrupt, s.interrupt
	s.gauge, other.gauge = other.gauge, s.gauge
	s.reportArmed()
	other.reportArmed()
}
