package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every collector the server exposes, registered on its own
// registry so tests can build isolated sets.
//
// All record methods are nil-safe: a nil *Set is a valid no-op sink, so
// packages under test never need a registry.
type Set struct {
	registry *prometheus.Registry

	checksIngested *prometheus.CounterVec
	checksRejected *prometheus.CounterVec
	monitorStatus  *prometheus.GaugeVec
	burnRate       *prometheus.GaugeVec

	alertsOpened *prometheus.CounterVec
	alertsClosed *prometheus.CounterVec
	openAlerts   *prometheus.GaugeVec

	trainingJobs     *prometheus.CounterVec
	trainingDuration prometheus.Histogram

	streamClients prometheus.Gauge
}

// New creates a Set with its own registry, including the standard Go and
// process collectors.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		checksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseguard_checks_ingested_total",
			Help: "Check results accepted by the engine.",
		}, []string{"monitor"}),
		checksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseguard_checks_rejected_total",
			Help: "Check results rejected at ingest.",
		}, []string{"reason"}),
		monitorStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulseguard_monitor_up",
			Help: "Monitor status: 1 up, 0 down, -1 pending.",
		}, []string{"monitor"}),
		burnRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulseguard_slo_burn_rate",
			Help: "Error budget burn rate per window.",
		}, []string{"monitor", "window"}),
		alertsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseguard_alerts_opened_total",
			Help: "Alerts opened, by kind.",
		}, []string{"kind"}),
		alertsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseguard_alerts_closed_total",
			Help: "Alerts closed, by kind.",
		}, []string{"kind"}),
		openAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulseguard_alerts_open",
			Help: "Currently open alerts, by kind.",
		}, []string{"kind"}),
		trainingJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseguard_training_jobs_total",
			Help: "Finished training jobs, by outcome.",
		}, []string{"outcome"}),
		trainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulseguard_training_duration_seconds",
			Help:    "Wall time of finished training jobs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulseguard_stream_clients",
			Help: "Connected websocket stream clients.",
		}),
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.checksIngested, s.checksRejected, s.monitorStatus, s.burnRate,
		s.alertsOpened, s.alertsClosed, s.openAlerts,
		s.trainingJobs, s.trainingDuration, s.streamClients,
	)
	return s
}

// Handler serves the set's registry in exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Set) CheckIngested(monitor string) {
	if s == nil {
		return
	}
	s.checksIngested.WithLabelValues(monitor).Inc()
}

func (s *Set) CheckRejected(reason string) {
	if s == nil {
		return
	}
	s.checksRejected.WithLabelValues(reason).Inc()
}

// SetMonitorStatus records the health state as a gauge value.
func (s *Set) SetMonitorStatus(monitor, status string) {
	if s == nil {
		return
	}
	v := -1.0
	switch status {
	case "up":
		v = 1
	case "down":
		v = 0
	}
	s.monitorStatus.WithLabelValues(monitor).Set(v)
}

func (s *Set) RemoveMonitor(monitor string) {
	if s == nil {
		return
	}
	s.monitorStatus.DeleteLabelValues(monitor)
	s.checksIngested.DeleteLabelValues(monitor)
	s.burnRate.DeletePartialMatch(prometheus.Labels{"monitor": monitor})
}

func (s *Set) SetBurnRate(monitor, window string, rate float64) {
	if s == nil {
		return
	}
	s.burnRate.WithLabelValues(monitor, window).Set(rate)
}

func (s *Set) AlertOpened(kind string) {
	if s == nil {
		return
	}
	s.alertsOpened.WithLabelValues(kind).Inc()
	s.openAlerts.WithLabelValues(kind).Inc()
}

func (s *Set) AlertClosed(kind string) {
	if s == nil {
		return
	}
	s.alertsClosed.WithLabelValues(kind).Inc()
	s.openAlerts.WithLabelValues(kind).Dec()
}

func (s *Set) TrainingFinished(outcome string, took time.Duration) {
	if s == nil {
		return
	}
	s.trainingJobs.WithLabelValues(outcome).Inc()
	s.trainingDuration.Observe(took.Seconds())
}

func (s *Set) StreamClientConnected() {
	if s == nil {
		return
	}
	s.streamClients.Inc()
}

func (s *Set) StreamClientDisconnected() {
	if s == nil {
		return
	}
	s.streamClients.Dec()
}
