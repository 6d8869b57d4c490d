// Package contextthread implements the worker-thread host that owns one
// reactor.Context and one service, wires signals into it, and provides a
// synchronous-readiness start/stop lifecycle.
package contextthread

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netreactor/reactor-go/internal/log"
	"github.com/netreactor/reactor-go/internal/metrics"
	"github.com/netreactor/reactor-go/internal/netreactorerr"
	"github.com/netreactor/reactor-go/internal/timer"
	"github.com/netreactor/reactor-go/reactor"
)

// ServiceHandler is the contract a hosted service provides: an interface
// in place of handler-subclass specialization. TCPService[H] and
// UDPService[H] both satisfy it.
type ServiceHandler interface {
	Start(ctx *reactor.Context) error
	SignalHandler(sig reactor.Signal)
}

// DefaultTerminateEscalation is the periodic resignal interval
// contextthread installs once terminate is observed.
const DefaultTerminateEscalation = time.Second

// ContextThread owns a worker goroutine, locked to its own OS thread for
// the duration of Run, hosting exactly one service on exactly one
// reactor.Context.
type ContextThread[S ServiceHandler] struct {
	newService          func() S
	log                 *log.Logger
	metrics             *metrics.Registry
	terminateEscalation time.Duration

	mu          sync.Mutex
	startCalled bool

	state    *reactor.StateBox
	ctx      *reactor.Context
	service  S
	startErr atomic.Value // error

	escalationTimer atomic.Uint64

	wg sync.WaitGroup
}

// New returns a context-thread that constructs its service with
// newService when Start is called.
func New[S ServiceHandler](newService func() S) *ContextThread[S] {
	return &ContextThread[S]{
		newService:          newService,
		log:                 log.Nop(),
		terminateEscalation: DefaultTerminateEscalation,
		state:               reactor.NewStateBox(),
	}
}

// WithLogger installs a logger used by the context and its service.
func (t *ContextThread[S]) WithLogger(l *log.Logger) *ContextThread[S] {
	t.log = l
	return t
}

// WithTerminateEscalation overrides the default 1-second resignal interval.
func (t *ContextThread[S]) WithTerminateEscalation(d time.Duration) *ContextThread[S] {
	t.terminateEscalation = d
	return t
}

// WithMetrics installs the registry signal delivery is mirrored into.
func (t *ContextThread[S]) WithMetrics(m *metrics.Registry) *ContextThread[S] {
	t.metrics = m
	return t
}

// State returns the current lifecycle state.
func (t *ContextThread[S]) State() reactor.State { return t.state.Get() }

// Context returns the owned reactor context, valid once Start has
// returned successfully.
func (t *ContextThread[S]) Context() *reactor.Context { return t.ctx }

// Service returns the hosted service, valid once Start has returned
// successfully.
func (t *ContextThread[S]) Service() S { return t.service }

// Start must be called at most once. It blocks until the worker has
// either reached STARTED or failed; the latter surfaces as an error.
func (t *ContextThread[S]) Start() error {
	t.mu.Lock()
	if t.startCalled {
		t.mu.Unlock()
		return netreactorerr.New(netreactorerr.CodeAlreadyStarted, "contextthread.Start", nil)
	}
	t.startCalled = true
	t.mu.Unlock()

	ctx, err := reactor.New(loggerOrNop(t.log).Raw())
	if err != nil {
		return netreactorerr.New(netreactorerr.CodeInternal, "contextthread.Start: new context", err)
	}
	// Socket-pair creation failure surfaces synchronously here rather
	// than being swallowed into the worker's stop path.
	if err := ctx.InterruptSource().Open(); err != nil {
		return netreactorerr.New(netreactorerr.CodeInternal, "contextthread.Start: socketpair", err)
	}
	t.ctx = ctx

	t.wg.Add(1)
	go t.run()

	t.state.WaitUntilNot(reactor.Pending)
	if v := t.startErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func loggerOrNop(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Nop()
	}
	return l
}

func (t *ContextThread[S]) run() {
	defer t.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	svc := t.newService()
	t.service = svc

	dialog, err := t.ctx.InterruptDialog()
	if err != nil {
		t.startErr.Store(err)
		t.state.Set(reactor.Stopped)
		return
	}

	watchEmpty := make(chan struct{})
	go func() {
		<-t.ctx.Scope.OnEmpty()
		// Once the scope drains, the terminate-escalation timer (if
		// armed) no longer serves a purpose; cancelling it lets
		// Timers.Resolve eventually report no armed work so Run can
		// observe the empty scope and return.
		if id := t.escalationTimer.Load(); id != timer.Invalid {
			t.ctx.Timers.Remove(id)
		}
		close(watchEmpty)
	}()

	t.escalationTimer.Store(timer.Invalid)
	t.ctx.ISR(dialog, func() bool { return t.signalRoutine(svc) })

	startErr := svc.Start(t.ctx)
	if startErr == nil && t.ctx.Scope.StopRequested() {
		// A service that swallowed its own start failure into a scope
		// stop request (TCPService) is reported as a failed start.
		startErr = netreactorerr.New(netreactorerr.CodeInternal, "contextthread.Start: service requested stop during start", nil)
	}
	if startErr != nil {
		t.startErr.Store(startErr)
		t.ctx.Signal(reactor.Terminate)
	} else {
		t.state.Set(reactor.Started)
	}

	_ = t.ctx.Run()

	t.stop()
}

// signalRoutine is the ISR body contextthread installs on the interrupt
// source's read end: it atomically drains the signal mask and dispatches
// each set bit, in increasing order, to the service's SignalHandler.
func (t *ContextThread[S]) signalRoutine(svc S) bool {
	mask := t.ctx.SwapSignals()
	t.ctx.InterruptSource().Drain()
	for b := reactor.Signal(0); b < reactor.End; b++ {
		if mask&(1<<b) != 0 {
			if t.metrics != nil {
				t.metrics.SignalsDelivered.WithLabelValues(b.String()).Inc()
			}
			svc.SignalHandler(b)
		}
	}
	if mask&(1<<reactor.Terminate) == 0 {
		return true
	}
	t.ctx.Scope.RequestStop()
	t.armTerminateEscalation(svc)
	return !t.ctx.Scope.StopRequested()
}

func (t *ContextThread[S]) armTerminateEscalation(svc S) {
	id := t.ctx.Timers.AddAfter(t.terminateEscalation, func(uint64) {
		svc.SignalHandler(reactor.Terminate)
	}, t.terminateEscalation)
	t.escalationTimer.Store(id)
}

func (t *ContextThread[S]) stop() {
	t.ctx.InterruptSource().Close()
	t.state.Set(reactor.Stopped)
}

// Close requests termination and blocks until the worker has joined.
// Safe to call on a ContextThread that was never started.
func (t *ContextThread[S]) Close() {
	if t.state.Get() == reactor.Pending {
		return
	}
	t.ctx.Signal(reactor.Terminate)
	t.wg.Wait()
}
