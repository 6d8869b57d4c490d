package service

import (
	"golang.org/x/sys/unix"

	"github.com/netreactor/reactor-go/internal/poller"
	"github.com/netreactor/reactor-go/internal/sockutil"
)

// Dialog is the handle a Handler gets for the socket its read fired on:
// a TCP connection's socket, or the single UDP server socket. It carries
// enough to send a reply without the handler reaching into service
// internals.
type Dialog struct {
	fd     int32
	pd     *poller.Dialog
	connID string // non-empty for TCP connections, empty for UDP

	// onSent, if set, is called with the byte count of every successful
	// Send/SendTo, so the owning service can mirror outbound traffic into
	// its Stats and metrics without Handler.Service ever seeing a Stats
	// reference.
	onSent func(n int)
}

// FD returns the underlying file descriptor.
func (d *Dialog) FD() int32 { return d.fd }

// ConnID returns the connection id assigned at accept time, or "" for a
// UDP dialog (datagrams have no per-packet identity to assign).
func (d *Dialog) ConnID() string { return d.connID }

// Send writes buf to the connected peer. For TCP this is a plain stream
// write; for UDP callers should use SendTo with the ReadContext's Peer
// address instead, since a UDP dialog has no fixed peer.
func (d *Dialog) Send(buf []byte) (int, error) {
	n, err := sockutil.Send(int(d.fd), buf)
	if n > 0 && d.onSent != nil {
		d.onSent(n)
	}
	return n, err
}

// SendTo writes one datagram to the given address, the UDP reply path.
func (d *Dialog) SendTo(buf []byte, to unix.Sockaddr) error {
	err := sockutil.SendTo(int(d.fd), buf, to)
	if err == nil && d.onSent != nil {
		d.onSent(len(buf))
	}
	return err
}
