package service

import "sync/atomic"

// Stats holds accepted/active connection counts, bytes and messages
// in/out, and the last error observed. Both TCPService and UDPService
// embed one and mirror it into the Prometheus registry.
type Stats struct {
	Accepted     atomic.Int64
	Active       atomic.Int64
	MessagesIn   atomic.Int64
	MessagesOut  atomic.Int64
	BytesIn      atomic.Int64
	BytesOut     atomic.Int64
	AcceptErrors atomic.Int64
	RecvErrors   atomic.Int64

	lastErr atomic.Value // error
}

// StatsSnapshot is an immutable point-in-time copy of Stats, safe to hand
// to callers (e.g. a /stats HTTP handler) without further synchronization.
type StatsSnapshot struct {
	Accepted, Active         int64
	MessagesIn, MessagesOut  int64
	BytesIn, BytesOut        int64
	AcceptErrors, RecvErrors int64
	LastError                error
}

func (s *Stats) recordError(err error) {
	s.lastErr.Store(errWrapper{err})
}

// errWrapper lets atomic.Value hold a possibly-nil error (atomic.Value
// requires a consistent concrete type across Store calls).
type errWrapper struct{ err error }

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	var lastErr error
	if v, ok := s.lastErr.Load().(errWrapper); ok {
		lastErr = v.err
	}
	return StatsSnapshot{
		Accepted:     s.Accepted.Load(),
		Active:       s.Active.Load(),
		MessagesIn:   s.MessagesIn.Load(),
		MessagesOut:  s.MessagesOut.Load(),
		BytesIn:      s.BytesIn.Load(),
		BytesOut:     s.BytesOut.Load(),
		AcceptErrors: s.AcceptErrors.Load(),
		RecvErrors:   s.RecvErrors.Load(),
		LastError:    lastErr,
	}
}
