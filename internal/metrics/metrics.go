// Package metrics exposes Prometheus counters and gauges for the
// session manager and demuxer, registered against a private registry
// so multiple managers in one process (or in tests) don't collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the manager and sessions update.
type Metrics struct {
	Registry *prometheus.Registry

	FramesDemuxed  *prometheus.CounterVec
	BytesRead      prometheus.Counter
	Resyncs        prometheus.Counter
	AuthFailures   prometheus.Counter
	ReconnectTotal prometheus.Counter
	ActiveSessions prometheus.Gauge
}

// New builds a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FramesDemuxed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dahuastream",
			Name:      "frames_demuxed_total",
			Help:      "Frames emitted by the DHAV demuxer, by kind.",
		}, []string{"kind"}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dahuastream",
			Name:      "bytes_read_total",
			Help:      "Bytes read from stream sockets across all sessions.",
		}),
		Resyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dahuastream",
			Name:      "demux_resyncs_total",
			Help:      "DHAV demuxer resynchronizations (buffer drops).",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dahuastream",
			Name:      "auth_failures_total",
			Help:      "Login attempts rejected by the device.",
		}),
		ReconnectTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dahuastream",
			Name:      "reconnects_total",
			Help:      "Session reconnect attempts made by the manager.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dahuastream",
			Name:      "active_sessions",
			Help:      "Sessions currently in the STREAM_STARTED state.",
		}),
	}
}

// Handler returns an http.Handler serving this Metrics' registry in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
