// Package metrics provides Prometheus metrics for the Scribe API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so packages can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SavesTotal     *prometheus.CounterVec
	SaveDuration   prometheus.Histogram
	ValidationsRun prometheus.Counter
	WarningsActive *prometheus.GaugeVec
	HistoryOps     *prometheus.CounterVec
	SessionsOpen   prometheus.Gauge
	ExportsTotal   *prometheus.CounterVec
	RenumbersTotal *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		SavesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_autosave_total",
			Help: "Draft saves by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_autosave_duration_seconds",
			Help:    "Duration of draft saves in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ValidationsRun: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_validations_total",
			Help: "Citation validations run",
		}),
		WarningsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scribe_warnings_active",
			Help: "Open sessions currently showing a warning, by type",
		}, []string{"type"}),
		HistoryOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_history_operations_total",
			Help: "Undo and redo operations that changed state",
		}, []string{"op"}),
		SessionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_sessions_open",
			Help: "Editor sessions currently open",
		}),
		ExportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_exports_total",
			Help: "Exports by format and outcome",
		}, []string{"format", "outcome"}),
		RenumbersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_renumbers_total",
			Help: "Citation removals and auto-fixes",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordSave(trigger string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.SavesTotal.WithLabelValues(trigger, outcome).Inc()
	m.SaveDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordValidation() {
	if m == nil {
		return
	}
	m.ValidationsRun.Inc()
}

// AdjustWarning moves the active-warning gauge for one type by delta.
func (m *Metrics) AdjustWarning(warningType string, delta float64) {
	if m == nil || delta == 0 {
		return
	}
	m.WarningsActive.WithLabelValues(warningType).Add(delta)
}

func (m *Metrics) RecordHistory(op string) {
	if m == nil {
		return
	}
	m.HistoryOps.WithLabelValues(op).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}

func (m *Metrics) RecordExport(format string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ExportsTotal.WithLabelValues(format, outcome).Inc()
}

func (m *Metrics) RecordRenumber(kind string) {
	if m == nil {
		return
	}
	m.RenumbersTotal.WithLabelValues(kind).Inc()
}
