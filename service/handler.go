// Package service implements the TCP acceptor and UDP datagram service
// skeletons: the generic accept/receive-loop machinery that a handler
// type specializes with per-connection / per-datagram behavior.
package service

import "github.com/netreactor/reactor-go/reactor"

// Handler is the contract a TCP or UDP service is generic over: the
// per-connection / per-datagram behavior is held by composition rather
// than inheritance.
type Handler interface {
	// Service consumes buf, which is empty to signal EOF or an error on
	// dialog. It returns whether the service should resubmit the read
	// (true) or let the connection close / stop reading (false).
	Service(ctx *reactor.Context, dialog *Dialog, rctx *ReadContext, buf []byte) bool
}

// Initializer is an optional socket-options hook, called after
// SO_REUSEADDR is set and before bind.
type Initializer interface {
	Initialize(fd int) error
}

// Stopper is an optional hook invoked when the terminate signal arrives,
// before the service shuts down its listening/server socket.
type Stopper interface {
	Stop()
}
