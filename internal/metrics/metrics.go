// Package metrics exposes the Prometheus counters and gauges wired into
// the timer set and the TCP/UDP services: accepted/active connections,
// timers armed, signals delivered, and acceptor failures.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups reactor-go's counters behind one struct so services and
// the timer set take a single dependency instead of package-level
// globals, and so cmd/reactorctl can register one collector set per
// listener.
type Registry struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	BytesIn             prometheus.Counter
	BytesOut            prometheus.Counter
	TimersArmed         prometheus.Gauge
	SignalsDelivered    *prometheus.CounterVec
	AcceptorFailures    prometheus.Counter
	RecvFailures        prometheus.Counter
}

// New builds a Registry and registers every metric with reg.
func New(namespace, subsystem string, reg prometheus.Registerer) *Registry {
	r := &Registry{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_accepted_total",
			Help: "Total connections accepted by the acceptor loop.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_active",
			Help: "Connections currently open.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_in_total",
			Help: "Total bytes received.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_out_total",
			Help: "Total bytes sent.",
		}),
		TimersArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "timers_armed",
			Help: "Timers currently armed in the timer set.",
		}),
		SignalsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "signals_delivered_total",
			Help: "Signals delivered to a service's signal handler, by signal name.",
		}, []string{"signal"}),
		AcceptorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acceptor_failures_total",
			Help: "Times the acceptor loop terminated due to an accept error.",
		}),
		RecvFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "recv_failures_total",
			Help: "Times a recv call failed; a clean EOF is not counted.",
		}),
	}
	reg.MustRegister(
		r.ConnectionsAccepted, r.ConnectionsActive, r.BytesIn, r.BytesOut,
		r.TimersArmed, r.SignalsDelivered, r.AcceptorFailures, r.RecvFailures,
	)
	return r
}

// Noop returns a Registry backed by an isolated registry, safe to use
// when no metrics endpoint is configured -- every increment is still a
// valid no-observed-cost prometheus call, just never scraped.
func Noop() *Registry {
	return New("reactor", "noop", prometheus.NewRegistry())
}
