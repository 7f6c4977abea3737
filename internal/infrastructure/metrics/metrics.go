// Package metrics exposes the listener's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bowatch"

// Metrics holds every collector. Each instance owns its registry so tests can
// build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// SignalR
	ConnectionState prometheus.Gauge
	Reconnects      *prometheus.CounterVec
	FramesReceived  prometheus.Counter
	TokenRefreshes  *prometheus.CounterVec

	// Notifications
	Notifications *prometheus.CounterVec
	Dispatches    *prometheus.CounterVec

	// Scheduled jobs
	JobRuns        *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobLastSuccess *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signalr",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=negotiating 2=connected 3=reconnecting 4=failed)",
		}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signalr",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by result",
		}, []string{"result"}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signalr",
			Name:      "frames_received_total",
			Help:      "Text frames received from the hub",
		}),
		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signalr",
			Name:      "token_refreshes_total",
			Help:      "Connection token refreshes by result",
		}, []string{"result"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "candidates_total",
			Help:      "Inbound candidates by channel and outcome",
		}, []string{"channel", "outcome"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dispatches_total",
			Help:      "Telegram dispatches by result",
		}, []string{"result"}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		JobLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job",
		}, []string{"job"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetConnectionState(state int, _ string) {
	m.ConnectionState.Set(float64(state))
}

func (m *Metrics) IncReconnect(result string) {
	m.Reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFrame() {
	m.FramesReceived.Inc()
}

func (m *Metrics) IncTokenRefresh(result string) {
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncNotification(channel, outcome string) {
	m.Notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) IncDispatch(result string) {
	m.Dispatches.WithLabelValues(result).Inc()
}

// ObserveJob records one scheduled job run.
func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	if err != nil {
		m.JobRuns.WithLabelValues(job, "error").Inc()
		return
	}
	m.JobRuns.WithLabelValues(job, "success").Inc()
	m.JobLastSuccess.WithLabelValues(job).SetToCurrentTime()
}
