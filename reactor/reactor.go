// Package reactor implements the async execution context: the event loop
// that multiplexes fd readiness, drives spawned continuations, and hosts
// services. It owns the readiness multiplexer, the async scope, the
// signal mask, and the timer set.
package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/netreactor/reactor-go/internal/ioutil"
	"github.com/netreactor/reactor-go/internal/poller"
	"github.com/netreactor/reactor-go/internal/scope"
	"github.com/netreactor/reactor-go/internal/timer"
)

// Signal is an ordinal in the context's signal mask.
type Signal uint

const (
	Terminate Signal = iota
	User1
	End
)

// String names a signal for logging and metric labels.
func (s Signal) String() string {
	switch s {
	case Terminate:
		return "terminate"
	case User1:
		return "user1"
	default:
		return "unknown"
	}
}

// State is the context-thread lifecycle state; contextthread owns the
// transitions, reactor only defines the enum so both packages and callers
// share one vocabulary.
type State int32

const (
	Pending State = iota
	Started
	Stopped
)

// Context is the async execution context. It is exclusively owned by one
// worker goroutine during Run; Signal, Interrupt, and the Timers set's
// Add/Remove are the only entry points safe to call from other goroutines.
type Context struct {
	Poller    *poller.Poller
	Scope     *scope.Scope
	Timers    *timer.Set
	interrupt *ioutil.InterruptSource

	sigmask atomic.Uint64
	log     *zap.Logger

	interruptDialog *poller.Dialog
}

// New constructs a context with a fresh poller, scope, and timer set, and
// installs the interrupt source as the timer set's Interrupter. The
// interrupt source's socket pair is not yet open; contextthread opens it
// during Start and arms its signal ISR on the read end.
func New(log *zap.Logger) (*Context, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	interrupt := ioutil.New()
	timers := timer.New()
	timers.SetInterrupter(interrupt)
	return &Context{
		Poller:    p,
		Scope:     scope.New(),
		Timers:    timers,
		interrupt: interrupt,
		log:       log,
	}, nil
}

// Interrupt forwards to the timer set's interrupt source, waking a
// sleeping reactor.
func (c *Context) Interrupt() error {
	return c.interrupt.Interrupt()
}

// InterruptSource exposes the interrupt source so contextthread can Open
// it before Run starts.
func (c *Context) InterruptSource() *ioutil.InterruptSource { return c.interrupt }

// InterruptDialog returns the poller registration for the interrupt
// source's read end, Emplace-ing it on first call. contextthread's signal
// ISR and Run's own wake-on-empty path go through this single accessor so
// the fd is only ever added to the poller once, however many consumers
// share it.
func (c *Context) InterruptDialog() (*poller.Dialog, error) {
	if c.interruptDialog != nil {
		return c.interruptDialog, nil
	}
	d, err := c.Poller.Emplace(c.interrupt.ReadFD())
	if err != nil {
		return nil, err
	}
	c.interruptDialog = d
	return d, nil
}

// Signal sets bit signum in the signal mask and interrupts the reactor.
// Safe from any goroutine. signum must be in [0, End).
func (c *Context) Signal(signum Signal) {
	if signum >= End {
		return
	}
	c.sigmask.Or(1 << signum)
	_ = c.Interrupt()
}

// SwapSignals atomically reads and clears the signal mask, the operation
// the signal ISR performs once per wake.
func (c *Context) SwapSignals() uint64 {
	return c.sigmask.Swap(0)
}

// ISR installs a self-restarting interrupt-service routine on dialog.
// routine runs once immediately; if it returns false the chain stops
// without re-arming. Otherwise ISR arms a one-shot readable wait on
// dialog and, on readiness, re-invokes itself -- net effect: routine runs
// once per readiness notification, forever, until it returns false or
// the wait errors. ISR reads nothing from dialog itself; consuming the
// pending bytes is left to routine.
// ISR registers one Spawn for the entire chain's lifetime -- the
// recursive re-arm is a continuation of the same outstanding operation,
// not a fresh spawn each cycle, so the scope never transiently reports
// empty between two readiness notifications.
func (c *Context) ISR(dialog *poller.Dialog, routine func() bool) {
	c.Scope.Spawn()
	c.isrStep(dialog, routine)
}

func (c *Context) isrStep(dialog *poller.Dialog, routine func() bool) {
	if !routine() {
		c.Scope.Done()
		return
	}
	dialog.WaitReadable(func(err error) {
		if err != nil {
			c.Scope.Done()
			return
		}
		c.isrStep(dialog, routine)
	})
}

// Run drives the reactor loop: wait on the multiplexer for the sooner of
// the next timer expiry or indefinitely, re-evaluating on every wake,
// until a wait comes back with no ready fds and the async scope is empty
// -- mirroring a combinator that keeps iterating while the poll found
// work or the scope still has work outstanding.
func (c *Context) Run() error {
	fresh := c.interruptDialog == nil
	dialog, err := c.InterruptDialog()
	if err != nil {
		return err
	}
	if fresh {
		// Nobody (e.g. contextthread, for signal dispatch) has armed this
		// dialog yet, so Run owns a bare drain-and-rearm loop whose only
		// job is making sure Interrupt always wakes a blocked WaitFor.
		// It does not go through ISR/Scope.Spawn: it is bookkeeping, not
		// outstanding async work, and must never keep the scope non-empty.
		c.armInterruptDrain(dialog)
	}

	var emptyClosed atomic.Bool
	go func() {
		<-c.Scope.OnEmpty()
		emptyClosed.Store(true)
		_ = c.Interrupt()
	}()

	for {
		wait := c.Timers.Resolve()
		millis := toMillis(wait)
		if emptyClosed.Load() {
			// Nothing left to legitimately block for; poll without
			// waiting so a quiet poller converges on the exit check
			// instead of sitting in an indefinite wait forever.
			millis = 0
		}
		n, err := c.Poller.WaitFor(millis)
		if err != nil {
			return err
		}
		if n == 0 && emptyClosed.Load() {
			return nil
		}
	}
}

func (c *Context) armInterruptDrain(dialog *poller.Dialog) {
	var step func(err error)
	step = func(err error) {
		if err != nil {
			return
		}
		c.interrupt.Drain()
		dialog.WaitReadable(step)
	}
	dialog.WaitReadable(step)
}

// toMillis converts a wait-hint duration to the millisecond argument
// epoll_wait expects: -1 means block indefinitely, otherwise truncate
// toward zero.
func toMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms < 0 {
		panic("toMillis: duration underflowed") // d >= 0 was checked above
	}
	return int(ms)
}

// StateBox is the Go substitute for an atomic-with-wait/notify: contextthread
// uses it to publish Pending -> Started -> Stopped transitions and let
// Start block until the worker has either started or failed.
type StateBox struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State
}

func NewStateBox() *StateBox {
	b := &StateBox{state: Pending}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *StateBox) Get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *StateBox) Set(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.cond.Broadcast()
}

// WaitUntilNot blocks until the state differs from s.
func (b *StateBox) WaitUntilNot(s State) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.state == s {
		b.cond.Wait()
	}
	return b.state
}
