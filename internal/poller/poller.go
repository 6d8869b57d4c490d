// Package poller implements the reactor's readiness multiplexer: a
// one-shot-rearm epoll wrapper. A Dialog is the opaque per-fd registration
// handle async I/O is issued against; exactly one readiness callback is
// ever in flight per dialog, matching the "spawn one operation" / "recurse
// on success, stop on error" restart discipline the service skeletons use.
package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Callback receives nil on readiness, or the poll-time error (the dialog
// was closed, or epoll reported a hangup/error condition on the fd).
type Callback func(err error)

// Dialog is a per-fd registration with the poller. It is one-shot: after
// WaitReadable/WaitWritable fires its callback, the fd is no longer armed
// until re-submitted.
type Dialog struct {
	fd     int32
	p      *Poller
	mu     sync.Mutex
	onRead  Callback
	onWrite Callback
	closed bool
}

// FD returns the underlying file descriptor.
func (d *Dialog) FD() int32 { return d.fd }

// WaitReadable arms a one-shot readable-readiness wait. cb fires exactly
// once, either from a future WaitFor call or immediately with an error if
// the dialog has already been closed.
func (d *Dialog) WaitReadable(cb Callback) {
	d.arm(unix.EPOLLIN, cb, false)
}

// WaitWritable arms a one-shot writable-readiness wait.
func (d *Dialog) WaitWritable(cb Callback) {
	d.arm(unix.EPOLLOUT, cb, true)
}

func (d *Dialog) arm(events uint32, cb Callback, write bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cb(unix.EBADF)
		return
	}
	if write {
		d.onWrite = cb
	} else {
		d.onRead = cb
	}
	want := uint32(0)
	if d.onRead != nil {
		want |= unix.EPOLLIN
	}
	if d.onWrite != nil {
		want |= unix.EPOLLOUT
	}
	want |= unix.EPOLLONESHOT
	p := d.p
	d.mu.Unlock()

	ev := unix.EpollEvent{Events: want, Fd: d.fd}
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(d.fd), &ev)
}

// Poller wraps a single epoll instance. All registration and dispatch
// happens on the goroutine that calls WaitFor -- the reactor's own -- so
// callbacks run without any cross-goroutine handoff.
type Poller struct {
	epfd int

	mu      sync.Mutex
	dialogs map[int32]*Dialog
}

// New creates an epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd, dialogs: make(map[int32]*Dialog)}, nil
}

// Emplace registers fd with the poller and returns its Dialog. The fd
// starts with no interest set; call WaitReadable/WaitWritable to arm it.
func (p *Poller) Emplace(fd int32) (*Dialog, error) {
	d := &Dialog{fd: fd, p: p}
	ev := unix.EpollEvent{Events: unix.EPOLLONESHOT, Fd: fd}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.dialogs[fd] = d
	p.mu.Unlock()
	return d, nil
}

// Remove unregisters a dialog's fd from the poller. It does not close the
// fd; the caller owns that lifecycle. A wait still armed on the dialog
// fires its callback with EBADF.
func (p *Poller) Remove(d *Dialog) {
	d.mu.Lock()
	d.closed = true
	readCB, writeCB := d.onRead, d.onWrite
	d.onRead, d.onWrite = nil, nil
	d.mu.Unlock()

	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(d.fd), nil)
	p.mu.Lock()
	delete(p.dialogs, d.fd)
	p.mu.Unlock()

	if readCB != nil {
		readCB(unix.EBADF)
	}
	if writeCB != nil {
		writeCB(unix.EBADF)
	}
}

// WaitFor blocks up to millis milliseconds (-1 blocks indefinitely, 0
// returns immediately) and dispatches every ready dialog's callback
// in-line before returning. It returns the count of events processed.
func (p *Poller) WaitFor(millis int) (int, error) {
	var events [128]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], millis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := events[i].Fd
		p.mu.Lock()
		d, ok := p.dialogs[fd]
		p.mu.Unlock()
		if !ok {
			continue
		}
		d.dispatch(events[i].Events)
	}
	return n, nil
}

func (d *Dialog) dispatch(events uint32) {
	d.mu.Lock()
	var readCB, writeCB Callback
	readReady := events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
	writeReady := events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0
	if readReady && d.onRead != nil {
		readCB, d.onRead = d.onRead, nil
	}
	if writeReady && d.onWrite != nil {
		writeCB, d.onWrite = d.onWrite, nil
	}
	var err error
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		err = unix.ECONNRESET
	}
	d.mu.Unlock()

	if readCB != nil {
		readCB(err)
	}
	if writeCB != nil {
		writeCB(err)
	}
}

// Close closes the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
