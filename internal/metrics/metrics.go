// Package metrics wraps the Prometheus collectors used by the dispatcher,
// generalizing the teacher repo's connections/messages registry to
// admissions/sessions/commands.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors exposed by the dispatcher.
type Registry struct {
	SessionsActive     prometheus.Gauge
	AdmissionsTotal    prometheus.Counter
	AdmissionsRejected *prometheus.CounterVec
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    prometheus.Histogram
	ResponseBytesTotal prometheus.Counter
}

// NewRegistry creates Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shellserver_sessions_active",
			Help: "Number of sessions currently registered and live.",
		}),
		AdmissionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shellserver_admissions_total",
			Help: "Total number of admission records successfully fetched from the ring.",
		}),
		AdmissionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shellserver_admissions_rejected_total",
			Help: "Total number of admission attempts that failed, by reason.",
		}, []string{"reason"}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shellserver_commands_total",
			Help: "Total number of commands executed, by outcome.",
		}, []string{"outcome"}),
		CommandDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shellserver_command_duration_seconds",
			Help:    "Time spent executing a command end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		ResponseBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shellserver_response_bytes_total",
			Help: "Total bytes written to client response pipes.",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
