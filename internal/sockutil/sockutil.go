// Package sockutil is the raw non-blocking socket layer the TCP and UDP
// service skeletons are built on: address resolution, socket creation,
// bind/listen/accept4/recvfrom/sendto, and the bound-address readback
// getsockname captures. Everything here is a thin wrapper over
// golang.org/x/sys/unix; it carries no service-level policy.
package sockutil

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ResolveAddr parses "host:port" (v4 or v6, including "[::1]:0") into a
// unix.Sockaddr and its address family. Port 0 requests an ephemeral port,
// read back later via Getsockname.
func ResolveAddr(network, address string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, fmt.Errorf("sockutil: invalid port %q: %w", portStr, err)
	}

	var ip net.IP
	if host == "" {
		ip = net.IPv4zero
	} else {
		ip = net.ParseIP(host)
		if ip == nil {
			ips, err := net.LookupIP(host)
			if err != nil || len(ips) == 0 {
				return nil, 0, fmt.Errorf("sockutil: cannot resolve host %q", host)
			}
			ip = ips[0]
		}
	}

	if v4 := ip.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], v4)
		return &sa, unix.AF_INET, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, 0, fmt.Errorf("sockutil: address %q is neither v4 nor v6", host)
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], v6)
	return &sa, unix.AF_INET6, nil
}

// NewStreamSocket creates a non-blocking, close-on-exec TCP socket for family.
func NewStreamSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// NewDatagramSocket creates a non-blocking, close-on-exec UDP socket for family.
func NewDatagramSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// SetReuseAddr sets SO_REUSEADDR, the socket option the service skeletons
// apply before bind regardless of protocol.
func SetReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func Bind(fd int, sa unix.Sockaddr) error    { return unix.Bind(fd, sa) }
func Listen(fd int, backlog int) error       { return unix.Listen(fd, backlog) }
func Close(fd int) error                     { return unix.Close(fd) }
func Shutdown(fd int, how int) error         { return unix.Shutdown(fd, how) }

// Getsockname reads back the address actually bound, capturing the
// assigned ephemeral port when the caller bound to port 0.
func Getsockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}

// Accept4 accepts one pending connection as non-blocking/close-on-exec.
func Accept4(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// Recv reads into buf from a connected stream socket.
func Recv(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// Send writes buf to a connected stream socket.
func Send(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// RecvFrom reads one datagram into buf, capturing the sender's address.
func RecvFrom(fd int, buf []byte) (int, unix.Sockaddr, error) {
	return unix.Recvfrom(fd, buf, 0)
}

// SendTo writes one datagram to the given destination address.
func SendTo(fd int, buf []byte, to unix.Sockaddr) error {
	return unix.Sendto(fd, buf, 0, to)
}

// SockaddrString renders a unix.Sockaddr the way reactor-go's logs and
// stats want to see it ("ip:port").
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}

// FamilyOf reports the address family of sa, used to bind a socket of the
// matching type after address resolution.
func FamilyOf(sa unix.Sockaddr) int {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return unix.AF_INET
	case *unix.SockaddrInet6:
		return unix.AF_INET6
	default:
		return unix.AF_INET
	}
}
