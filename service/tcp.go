package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/netreactor/reactor-go/internal/log"
	"github.com/netreactor/reactor-go/internal/metrics"
	"github.com/netreactor/reactor-go/internal/poller"
	"github.com/netreactor/reactor-go/internal/sockutil"
	"github.com/netreactor/reactor-go/internal/timer"
	"github.com/netreactor/reactor-go/pkg/pool"
	"github.com/netreactor/reactor-go/reactor"
)

// Invalid is the sentinel fd value for a service that isn't running.
const Invalid int32 = -1

// tcpConn is one accepted connection: its socket, poller registration,
// read buffer, and the idle-reaping bookkeeping.
type tcpConn struct {
	id         string
	fd         int32
	dialog     *poller.Dialog
	rctx       *ReadContext
	lastActive atomic.Int64
}

// TCPService is the acceptor state machine and per-connection read-loop
// skeleton, generic over a Handler implementation H.
type TCPService[H Handler] struct {
	// Address is the bind address ("host:port"); after Start it is
	// updated to the actual bound address (capturing an ephemeral port).
	Address string
	// Handler implements the per-connection behavior.
	Handler H
	// BufferSize is each connection's read-context buffer size.
	BufferSize int
	// IdleTimeout, if non-zero, arms a periodic timer that closes
	// connections idle past this duration.
	IdleTimeout time.Duration
	// Timers backs the idle-reaper; required only if IdleTimeout != 0.
	Timers *timer.Set
	// Log and Metrics default to no-ops if left nil.
	Log     *log.Logger
	Metrics *metrics.Registry

	Stats Stats

	acceptorFD atomic.Int32
	bufPool    *pool.BytePool
	idleTimer  uint64

	connMu sync.Mutex
	conns  map[string]*tcpConn
}

func (s *TCPService[H]) logger() *log.Logger {
	if s.Log == nil {
		return log.Nop()
	}
	return s.Log
}

func (s *TCPService[H]) bufSize() int {
	if s.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return s.BufferSize
}

// Start binds, listens, and kicks off the acceptor loop. A TCP start
// failure is swallowed into a scope stop request rather than returned;
// contextthread sees that stop request right after Start and reports it
// as a failed start.
func (s *TCPService[H]) Start(ctx *reactor.Context) error {
	s.acceptorFD.Store(Invalid)
	s.conns = make(map[string]*tcpConn)
	s.bufPool = pool.NewBytePool(s.bufSize())
	s.idleTimer = timer.Invalid

	sa, family, err := sockutil.ResolveAddr("tcp", s.Address)
	if err != nil {
		s.logger().Error("tcp: resolve address failed", zap.Error(err))
		ctx.Scope.RequestStop()
		return nil
	}
	fd, err := sockutil.NewStreamSocket(family)
	if err != nil {
		s.logger().Error("tcp: socket failed", zap.Error(err))
		ctx.Scope.RequestStop()
		return nil
	}
	if err := sockutil.SetReuseAddr(fd); err != nil {
		sockutil.Close(fd)
		ctx.Scope.RequestStop()
		return nil
	}
	if init, ok := any(s.Handler).(Initializer); ok {
		if err := init.Initialize(fd); err != nil {
			s.logger().Error("tcp: handler initialize rejected", zap.Error(err))
			sockutil.Close(fd)
			ctx.Scope.RequestStop()
			return nil
		}
	}
	if err := sockutil.Bind(fd, sa); err != nil {
		s.logger().Error("tcp: bind failed", zap.Error(err))
		sockutil.Close(fd)
		ctx.Scope.RequestStop()
		return nil
	}
	if bound, err := sockutil.Getsockname(fd); err == nil {
		s.Address = sockutil.SockaddrString(bound)
	}
	if err := sockutil.Listen(fd, unix.SOMAXCONN); err != nil {
		s.logger().Error("tcp: listen failed", zap.Error(err))
		sockutil.Close(fd)
		ctx.Scope.RequestStop()
		return nil
	}

	s.acceptorFD.Store(int32(fd))
	dialog, err := ctx.Poller.Emplace(int32(fd))
	if err != nil {
		s.logger().Error("tcp: poller registration failed", zap.Error(err))
		ctx.Scope.RequestStop()
		return nil
	}
	s.armIdleReaper(ctx)
	s.acceptor(ctx, dialog)
	return nil
}

func (s *TCPService[H]) armIdleReaper(ctx *reactor.Context) {
	if s.IdleTimeout <= 0 || s.Timers == nil {
		return
	}
	s.idleTimer = s.Timers.AddAfter(s.IdleTimeout, func(uint64) {
		s.reapIdle(ctx)
	}, s.IdleTimeout)
}

func (s *TCPService[H]) reapIdle(ctx *reactor.Context) {
	deadline := time.Now().UnixNano() - s.IdleTimeout.Nanoseconds()
	s.connMu.Lock()
	var stale []*tcpConn
	for _, c := range s.conns {
		if c.lastActive.Load() < deadline {
			stale = append(stale, c)
		}
	}
	s.connMu.Unlock()
	for _, c := range stale {
		s.closeConn(ctx, c)
	}
}

// acceptor spawns the accept loop: one Scope unit for its entire
// lifetime, restarting on every successful accept and terminating the
// chain on the first accept failure.
func (s *TCPService[H]) acceptor(ctx *reactor.Context, dialog *poller.Dialog) {
	ctx.Scope.Spawn()
	s.acceptStep(ctx, dialog)
}

func (s *TCPService[H]) acceptStep(ctx *reactor.Context, dialog *poller.Dialog) {
	dialog.WaitReadable(func(err error) {
		if err != nil {
			s.Stats.AcceptErrors.Add(1)
			if s.Metrics != nil {
				s.Metrics.AcceptorFailures.Inc()
			}
			ctx.Scope.Done()
			return
		}
		fd := s.acceptorFD.Load()
		if fd == Invalid {
			ctx.Scope.Done()
			return
		}
		nfd, _, aerr := sockutil.Accept4(int(fd))
		if aerr != nil {
			if aerr == unix.EAGAIN {
				s.acceptStep(ctx, dialog)
				return
			}
			s.Stats.AcceptErrors.Add(1)
			s.Stats.recordError(aerr)
			if s.Metrics != nil {
				s.Metrics.AcceptorFailures.Inc()
			}
			ctx.Scope.Done()
			return
		}
		s.emit(ctx, nfd)
		s.acceptStep(ctx, dialog) // restart only on success
	})
}

func (s *TCPService[H]) emit(ctx *reactor.Context, fd int) {
	connDialog, err := ctx.Poller.Emplace(int32(fd))
	if err != nil {
		sockutil.Close(fd)
		return
	}
	conn := &tcpConn{
		id:     uuid.NewString(),
		fd:     int32(fd),
		dialog: connDialog,
		rctx:   &ReadContext{buf: s.bufPool.Get()},
	}
	conn.lastActive.Store(time.Now().UnixNano())

	s.connMu.Lock()
	s.conns[conn.id] = conn
	s.connMu.Unlock()

	s.Stats.Accepted.Add(1)
	s.Stats.Active.Add(1)
	if s.Metrics != nil {
		s.Metrics.ConnectionsAccepted.Inc()
		s.Metrics.ConnectionsActive.Inc()
	}

	s.submitRecv(ctx, conn)
}

// submitRecv spawns the per-connection read loop: one Scope unit for the
// connection's lifetime, the recv chain recursing on every byte the
// handler asks it to keep reading.
func (s *TCPService[H]) submitRecv(ctx *reactor.Context, conn *tcpConn) {
	ctx.Scope.Spawn()
	s.recvStep(ctx, conn)
}

func (s *TCPService[H]) recvStep(ctx *reactor.Context, conn *tcpConn) {
	conn.dialog.WaitReadable(func(err error) {
		if err != nil {
			s.deliverEOF(ctx, conn)
			ctx.Scope.Done()
			return
		}
		n, rerr := sockutil.Recv(int(conn.fd), conn.rctx.Buf())
		if rerr != nil || n == 0 {
			if rerr != nil && rerr != unix.EAGAIN {
				s.Stats.RecvErrors.Add(1)
				s.Stats.recordError(rerr)
				if s.Metrics != nil {
					s.Metrics.RecvFailures.Inc()
				}
			}
			if rerr == unix.EAGAIN {
				s.recvStep(ctx, conn)
				return
			}
			s.deliverEOF(ctx, conn)
			ctx.Scope.Done()
			return
		}

		conn.lastActive.Store(time.Now().UnixNano())
		s.Stats.MessagesIn.Add(1)
		s.Stats.BytesIn.Add(int64(n))
		if s.Metrics != nil {
			s.Metrics.BytesIn.Add(float64(n))
		}

		dialog := s.newDialog(conn)
		if s.Handler.Service(ctx, dialog, conn.rctx, conn.rctx.Buf()[:n]) {
			s.recvStep(ctx, conn)
			return
		}
		s.closeConn(ctx, conn)
		ctx.Scope.Done()
	})
}

func (s *TCPService[H]) deliverEOF(ctx *reactor.Context, conn *tcpConn) {
	dialog := s.newDialog(conn)
	s.Handler.Service(ctx, dialog, conn.rctx, nil)
	s.closeConn(ctx, conn)
}

// newDialog builds the Dialog handed to Handler.Service, wiring its send
// path back into this connection's Stats and metrics.
func (s *TCPService[H]) newDialog(conn *tcpConn) *Dialog {
	return &Dialog{
		fd:     conn.fd,
		pd:     conn.dialog,
		connID: conn.id,
		onSent: func(n int) {
			s.Stats.MessagesOut.Add(1)
			s.Stats.BytesOut.Add(int64(n))
			if s.Metrics != nil {
				s.Metrics.BytesOut.Add(float64(n))
			}
		},
	}
}

func (s *TCPService[H]) closeConn(ctx *reactor.Context, conn *tcpConn) {
	s.connMu.Lock()
	_, existed := s.conns[conn.id]
	delete(s.conns, conn.id)
	s.connMu.Unlock()
	if !existed {
		return
	}
	ctx.Poller.Remove(conn.dialog)
	s.bufPool.Put(conn.rctx.buf)
	sockutil.Close(int(conn.fd))
	s.Stats.Active.Add(-1)
	if s.Metrics != nil {
		s.Metrics.ConnectionsActive.Dec()
	}
}

// SignalHandler implements the service contract contextthread wires
// signals into. On Terminate it calls the handler's optional Stop hook,
// then shuts down the acceptor's read side so the pending accept fails
// and the acceptor chain winds down.
func (s *TCPService[H]) SignalHandler(sig reactor.Signal) {
	if sig != reactor.Terminate {
		return
	}
	if stopper, ok := any(s.Handler).(Stopper); ok {
		stopper.Stop()
	}
	fd := s.acceptorFD.Swap(Invalid)
	if fd != Invalid {
		_ = sockutil.Shutdown(int(fd), unix.SHUT_RD)
	}
}
