package service

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/netreactor/reactor-go/internal/log"
	"github.com/netreactor/reactor-go/internal/metrics"
	"github.com/netreactor/reactor-go/internal/poller"
	"github.com/netreactor/reactor-go/internal/sockutil"
	"github.com/netreactor/reactor-go/reactor"
)

// UDPService is the single-socket datagram receive-loop skeleton, generic
// over a Handler implementation H.
type UDPService[H Handler] struct {
	// Address is the bind address; Start rewrites it to the bound
	// address, capturing an ephemeral port.
	Address string
	Handler H
	// BufferSize is the shared read-context buffer size.
	BufferSize int
	Log        *log.Logger
	Metrics    *metrics.Registry

	Stats Stats

	serverFD atomic.Int32
	dialog   *poller.Dialog
	rctx     *ReadContext
}

func (s *UDPService[H]) logger() *log.Logger {
	if s.Log == nil {
		return log.Nop()
	}
	return s.Log
}

func (s *UDPService[H]) bufSize() int {
	if s.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return s.BufferSize
}

// Start binds the datagram socket and issues the first recv. Unlike
// TCPService, a UDP start failure is returned directly: there is no
// acceptor to swallow it into.
func (s *UDPService[H]) Start(ctx *reactor.Context) error {
	s.serverFD.Store(Invalid)

	sa, family, err := sockutil.ResolveAddr("udp", s.Address)
	if err != nil {
		return err
	}
	fd, err := sockutil.NewDatagramSocket(family)
	if err != nil {
		s.logger().Error("udp: socket failed", zap.Error(err))
		return err
	}
	if err := sockutil.SetReuseAddr(fd); err != nil {
		sockutil.Close(fd)
		return err
	}
	if init, ok := any(s.Handler).(Initializer); ok {
		if err := init.Initialize(fd); err != nil {
			s.logger().Error("udp: handler initialize rejected", zap.Error(err))
			sockutil.Close(fd)
			return err
		}
	}
	if err := sockutil.Bind(fd, sa); err != nil {
		s.logger().Error("udp: bind failed", zap.Error(err))
		sockutil.Close(fd)
		return err
	}
	if bound, err := sockutil.Getsockname(fd); err == nil {
		s.Address = sockutil.SockaddrString(bound)
	}

	s.serverFD.Store(int32(fd))
	dialog, err := ctx.Poller.Emplace(int32(fd))
	if err != nil {
		s.logger().Error("udp: poller registration failed", zap.Error(err))
		return err
	}
	s.dialog = dialog
	s.rctx = NewReadContext(s.bufSize())
	s.submitRecv(ctx)
	return nil
}

// submitRecv spawns the receive loop: one Scope unit for the service's
// entire running lifetime, recursing on every datagram the handler asks
// it to keep reading.
func (s *UDPService[H]) submitRecv(ctx *reactor.Context) {
	ctx.Scope.Spawn()
	s.recvStep(ctx)
}

func (s *UDPService[H]) recvStep(ctx *reactor.Context) {
	s.dialog.WaitReadable(func(err error) {
		if err != nil {
			s.deliverEOF(ctx)
			ctx.Scope.Done()
			return
		}
		fd := s.serverFD.Load()
		if fd == Invalid {
			ctx.Scope.Done()
			return
		}
		n, from, rerr := sockutil.RecvFrom(int(fd), s.rctx.Buf())
		if rerr != nil {
			if rerr == unix.EAGAIN {
				s.recvStep(ctx)
				return
			}
			s.Stats.RecvErrors.Add(1)
			s.Stats.recordError(rerr)
			if s.Metrics != nil {
				s.Metrics.RecvFailures.Inc()
			}
			s.deliverEOF(ctx)
			ctx.Scope.Done()
			return
		}

		s.rctx.Peer = from
		s.Stats.MessagesIn.Add(1)
		s.Stats.BytesIn.Add(int64(n))
		if s.Metrics != nil {
			s.Metrics.BytesIn.Add(float64(n))
		}

		dialog := s.newDialog(int32(fd))
		if s.Handler.Service(ctx, dialog, s.rctx, s.rctx.Buf()[:n]) {
			s.recvStep(ctx)
			return
		}
		ctx.Scope.Done()
	})
}

func (s *UDPService[H]) deliverEOF(ctx *reactor.Context) {
	dialog := s.newDialog(s.serverFD.Load())
	s.Handler.Service(ctx, dialog, s.rctx, nil)
}

// newDialog builds the Dialog handed to Handler.Service, wiring its send
// path back into this service's Stats and metrics.
func (s *UDPService[H]) newDialog(fd int32) *Dialog {
	return &Dialog{
		fd: fd,
		pd: s.dialog,
		onSent: func(n int) {
			s.Stats.MessagesOut.Add(1)
			s.Stats.BytesOut.Add(int64(n))
			if s.Metrics != nil {
				s.Metrics.BytesOut.Add(float64(n))
			}
		},
	}
}

// SignalHandler shuts down the server socket's read side on Terminate,
// unblocking the pending recv.
func (s *UDPService[H]) SignalHandler(sig reactor.Signal) {
	if sig != reactor.Terminate {
		return
	}
	if stopper, ok := any(s.Handler).(Stopper); ok {
		stopper.Stop()
	}
	fd := s.serverFD.Swap(Invalid)
	if fd != Invalid {
		_ = sockutil.Shutdown(int(fd), unix.SHUT_RD)
	}
}
