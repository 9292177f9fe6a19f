// Package metrics exposes the Prometheus collectors the server dispatcher
// drives: active operation count, bytes transferred, retransmits and
// timeouts. A nil *Registry is a valid no-op so library-default
// construction never requires a Prometheus server to exist.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors the dispatcher updates.
type Registry struct {
	activeOperations prometheus.Gauge
	bytesTransferred *prometheus.CounterVec
	retransmits      prometheus.Counter
	timeouts         prometheus.Counter
}

// NewRegistry builds a Registry and registers its collectors with reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Registry{
		activeOperations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tftp_active_operations",
			Help: "Number of in-flight TFTP read/write operations.",
		}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftp_bytes_transferred_total",
			Help: "Total bytes transferred, labeled by operation kind.",
		}, []string{"kind"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tftp_retransmits_total",
			Help: "Total number of datagram retransmissions.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tftp_timeouts_total",
			Help: "Total number of operations that terminated on retry exhaustion.",
		}),
	}
	reg.MustRegister(r.activeOperations, r.bytesTransferred, r.retransmits, r.timeouts)
	return r
}

// OperationStarted increments the active-operations gauge.
func (r *Registry) OperationStarted() {
	if r == nil {
		return
	}
	r.activeOperations.Inc()
}

// OperationEnded decrements the active-operations gauge.
func (r *Registry) OperationEnded() {
	if r == nil {
		return
	}
	r.activeOperations.Dec()
}

// BytesTransferred adds n to the per-kind transferred-bytes counter.
func (r *Registry) BytesTransferred(kind string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesTransferred.WithLabelValues(kind).Add(float64(n))
}

// Retransmitted increments the retransmit counter.
func (r *Registry) Retransmitted() {
	if r == nil {
		return
	}
	r.retransmits.Inc()
}

// TimedOut increments the timeout counter.
func (r *Registry) TimedOut() {
	if r == nil {
		return
	}
	r.timeouts.Inc()
}
