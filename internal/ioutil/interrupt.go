// Package ioutil implements the socket-pair interrupt source: a wakeup
// primitive whose read end is registered with the reactor's multiplexer
// and whose write end is a fire-and-forget byte poke, safe to call from
// any goroutine.
package ioutil

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Invalid is the sentinel value for an unopened or closed socket handle.
const Invalid int32 = -1

// wakeByte is written to the pipe on every Interrupt call; its value
// carries no meaning, only its arrival does.
const wakeByte = 'x'

// InterruptSource owns a connected AF_UNIX/SOCK_STREAM pair. Both ends
// start Invalid; Open fills them in. The write end is an atomic.Int32 so
// the owning context-thread can close it exactly once, via atomic
// exchange, while other goroutines keep calling Interrupt locklessly.
type InterruptSource struct {
	readFD  int32
	writeFD atomic.Int32
}

// New returns an unopened interrupt source; Interrupt is a safe no-op
// until Open succeeds.
func New() *InterruptSource {
	s := &InterruptSource{readFD: Invalid}
	s.writeFD.Store(Invalid)
	return s
}

// Open creates the socket pair. It must be called by the owning
// context-thread during startup, before the read end is registered with
// the multiplexer.
func (s *InterruptSource) Open() error {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return err
	}
	s.readFD = int32(fds[0])
	s.writeFD.Store(int32(fds[1]))
	return nil
}

// ReadFD is the end registered with the multiplexer.
func (s *InterruptSource) ReadFD() int32 { return s.readFD }

// Interrupt writes a single byte to the write end. Errors, including a
// full pipe, are swallowed: a full pipe still means a wake is pending, so
// there is nothing useful to do with the failure.
func (s *InterruptSource) Interrupt() error {
	fd := s.writeFD.Load()
	if fd == Invalid {
		return nil
	}
	_, _ = unix.Write(int(fd), []byte{wakeByte})
	return nil
}

// Drain reads and discards every pending byte on the read end, called by
// the ISR once readiness fires so the next poll doesn't spuriously wake.
func (s *InterruptSource) Drain() {
	if s.readFD == Invalid {
		return
	}
	var buf [64]byte
	for {
		n, err := unix.Read(int(s.readFD), buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close atomically exchanges the write end to Invalid and closes both
// ends. Safe to call exactly once; a second call is a no-op on the write
// end and closes nothing further.
func (s *InterruptSource) Close() error {
	w := s.writeFD.Swap(Invalid)
	if w != Invalid {
		unix.Close(int(w))
	}
	if s.readFD != Invalid {
		unix.Close(int(s.readFD))
		s.readFD = Invalid
	}
	return nil
}
