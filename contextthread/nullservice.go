package contextthread

import "github.com/netreactor/reactor-go/reactor"

// NullService is a ServiceHandler whose Start always succeeds and whose
// SignalHandler is a no-op -- the standard way to obtain a bare
// context-thread for async clients that add their own spawned work
// instead of hosting an acceptor or datagram loop.
type NullService struct{}

func (NullService) Start(*reactor.Context) error { return nil }
func (NullService) SignalHandler(reactor.Signal) {}

// NewNull returns a context-thread hosting NullService.
func NewNull() *ContextThread[NullService] {
	return New(func() NullService { return NullService{} })
}
