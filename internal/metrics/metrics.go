// Package metrics holds the Prometheus collectors exported by the client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paperdrop"

// Metrics groups every collector the client updates.
type Metrics struct {
	sessionChecks       *prometheus.CounterVec
	sessionAuthed       prometheus.Gauge
	apiStatus           *prometheus.GaugeVec
	healthChecks        *prometheus.CounterVec
	healthCheckDuration prometheus.Histogram
	uploads             *prometheus.CounterVec
	childSaves          *prometheus.CounterVec
	requestLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "checks_total",
			Help:      "Session checks that read the token store, by outcome.",
		}, []string{"result"}),
		sessionAuthed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while the session is authenticated.",
		}),
		apiStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "status",
			Help:      "Current API reachability; the active status is set to 1.",
		}, []string{"status"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "health_checks_total",
			Help:      "Health checks, by resulting status.",
		}, []string{"status"}),
		healthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "health_check_duration_seconds",
			Help:      "Health check latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "uploads_total",
			Help:      "Upload attempts, by outcome.",
		}, []string{"result"}),
		childSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "child_saves_total",
			Help:      "Item saves, by outcome.",
		}, []string{"result"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Persistence API call latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionChecks, m.sessionAuthed, m.apiStatus, m.healthChecks,
			m.healthCheckDuration, m.uploads, m.childSaves, m.requestLatency,
		)
	}
	return m
}

func (m *Metrics) SessionChecked(result string) {
	if m == nil {
		return
	}
	m.sessionChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) SetAuthenticated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.sessionAuthed.Set(1)
	} else {
		m.sessionAuthed.Set(0)
	}
}

// SetAPIStatus marks status as the active one.
func (m *Metrics) SetAPIStatus(status string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.apiStatus.WithLabelValues(s).Set(0)
	}
	m.apiStatus.WithLabelValues(status).Set(1)
}

func (m *Metrics) HealthCheckFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(status).Inc()
	m.healthCheckDuration.Observe(seconds)
}

func (m *Metrics) UploadFinished(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) ChildSaved(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.childSaves.WithLabelValues("ok").Inc()
	} else {
		m.childSaves.WithLabelValues("failed").Inc()
	}
}

// ChildrenSaved records n item saves with the same outcome.
func (m *Metrics) ChildrenSaved(n int, ok bool) {
	if m == nil || n <= 0 {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.childSaves.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ObserveRequest(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(operation).Observe(seconds)
}
