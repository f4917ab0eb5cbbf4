// Package metrics exposes the proxy's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for Requests.
const (
	OutcomeOK          = "ok"
	OutcomeCacheHit    = "cache_hit"
	OutcomeInvalid     = "invalid"
	OutcomeForbidden   = "forbidden"
	OutcomeRateLimited = "rate_limited"
	OutcomeUpstream    = "upstream_error"
)

type Metrics struct {
	Requests         *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	SegmentBytes     prometheus.Counter
	Playlists        *prometheus.CounterVec
	TrackedClients   prometheus.GaugeFunc
}

// New registers the collectors on reg. trackedClients may be nil.
func New(reg prometheus.Registerer, trackedClients func() float64) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_requests_total",
			Help: "Proxy requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),

		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_proxy_upstream_duration_seconds",
			Help:    "Time until upstream response headers by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		SegmentBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hls_proxy_segment_bytes_total",
			Help: "Segment bytes streamed to clients",
		}),

		Playlists: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_playlists_served_total",
			Help: "Playlists served by kind (master, media, unknown), cache hits included",
		}, []string{"kind"}),
	}

	if trackedClients != nil {
		m.TrackedClients = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hls_proxy_ratelimit_tracked_clients",
			Help: "Client identities currently tracked by the in-memory rate limiter",
		}, trackedClients)
	}
	return m
}
