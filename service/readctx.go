package service

import "golang.org/x/sys/unix"

// DefaultBufferSize is the read-context buffer's default capacity.
const DefaultBufferSize = 64 * 1024

// ReadContext is the fixed-size receive buffer and pre-allocated peer
// address record the service skeletons hand to a handler on every read.
// One is allocated per TCP connection and once for the lifetime of a UDP
// service.
type ReadContext struct {
	buf  []byte
	Peer unix.Sockaddr
}

// NewReadContext allocates a ReadContext with the given buffer capacity.
func NewReadContext(size int) *ReadContext {
	return &ReadContext{buf: make([]byte, size)}
}

// Buf returns the full-capacity scratch buffer to read into.
func (r *ReadContext) Buf() []byte { return r.buf }

// Reset clears the peer address between reads; the buffer itself is
// reused in place, its contents overwritten rather than zeroed.
func (r *ReadContext) Reset() { r.Peer = nil }
