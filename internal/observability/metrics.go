// Package observability exposes Prometheus instruments for the service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	AnswerTiers       *prometheus.CounterVec
	AnswerOutcomes    *prometheus.CounterVec
	AnswerLatency     prometheus.Histogram
	RetrievalFailures *prometheus.CounterVec
	VisitorEvents     *prometheus.CounterVec
	SyncNotices       prometheus.Counter
	WSMessages        *prometheus.CounterVec
	IngestJobs        *prometheus.CounterVec
}

// NewMetrics registers every instrument on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live visitor chat sessions.",
		}),
		AnswerTiers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_tier_results_total",
			Help:      "Answer model attempts by tier and result reason.",
		}, []string{"tier", "reason"}),
		AnswerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_outcomes_total",
			Help:      "Finished questions by terminal pipeline state.",
		}, []string{"state"}),
		AnswerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_latency_ms",
			Help:      "End-to-end question latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		RetrievalFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_failures_total",
			Help:      "Knowledge-base retrieval failures by stage.",
		}, []string{"stage"}),
		VisitorEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visitor_request_events_total",
			Help:      "Visitor request events by type.",
		}, []string{"event"}),
		SyncNotices: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_notices_total",
			Help:      "Status-change notices appended to visitor sessions.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		IngestJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_jobs_total",
			Help:      "Knowledge-base ingest jobs by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveTier(tier, reason string) {
	if m == nil {
		return
	}
	m.AnswerTiers.WithLabelValues(tier, reason).Inc()
}

func (m *Metrics) ObserveAnswer(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnswerOutcomes.WithLabelValues(state).Inc()
	m.AnswerLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRetrievalFailure(stage string) {
	if m == nil {
		return
	}
	m.RetrievalFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveVisitorEvent(event string) {
	if m == nil {
		return
	}
	m.VisitorEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSyncNotice() {
	if m == nil {
		return
	}
	m.SyncNotices.Inc()
}

func (m *Metrics) ObserveWSMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) ObserveIngestJob(result string) {
	if m == nil {
		return
	}
	m.IngestJobs.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
