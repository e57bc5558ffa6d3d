// Package coremetrics exposes the prometheus collectors shared across
// the capability table, fast IPC, the message router, and the service
// supervisor, registered once at package init time.
package coremetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// cap
	CapCreatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "core_cap_creates_total",
		Help: "Total number of root capability tokens created.",
	})
	CapGrantsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "core_cap_grants_total",
		Help: "Total number of capability tokens granted (derived).",
	})
	CapChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "core_cap_checks_total",
		Help: "Total number of capability checks by result.",
	}, []string{"result"})
	CapRevokesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "core_cap_revokes_total",
		Help: "Total number of capability revocations (root calls, not descendants marked).",
	})

	// fastipc
	FastIPCRingDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "core_fastipc_ring_depth",
		Help: "Current occupied slot count of a fast-IPC ring.",
	}, []string{"endpoint"})
	FastIPCTimeoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "core_fastipc_timeouts_total",
		Help: "Total number of fast-IPC call timeouts.",
	}, []string{"endpoint"})

	// linkrouter
	LinkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "core_link_request_duration_seconds",
		Help:    "Router request/response round-trip latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	LinkRequestTimeoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "core_link_request_timeouts_total",
		Help: "Total number of router request timeouts.",
	}, []string{"channel"})

	// supervisor
	ServiceRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "core_service_restarts_total",
		Help: "Total number of service restarts by service name.",
	}, []string{"service"})
	ServiceStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "core_service_state",
		Help: "Current state of a supervised service (1 = in this state, 0 otherwise).",
	}, []string{"service", "state"})
)

func init() {
	prometheus.MustRegister(
		CapCreatesTotal,
		CapGrantsTotal,
		CapChecksTotal,
		CapRevokesTotal,
		FastIPCRingDepth,
		FastIPCTimeoutsTotal,
		LinkRequestDuration,
		LinkRequestTimeoutsTotal,
		ServiceRestartsTotal,
		ServiceStateGauge,
	)
}

// Handler returns the Prometheus scrape handler, for an embedder that
// chooses to expose one; the core itself has no HTTP surface.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for a histogram observation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
