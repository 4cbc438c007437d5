package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job/run metrics
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_jobs_active",
			Help: "Total number of non-archived backup jobs",
		},
	)

	RunsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_runs_by_status",
			Help: "Current number of runs in each status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_run_duration_seconds",
			Help:    "Time taken by a run from dispatch to terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 21600},
		},
		[]string{"status"},
	)

	// Snapshot/retention metrics
	SnapshotDeleteQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_snapshot_delete_queue_depth",
			Help: "Number of artifact delete tasks queued or retrying",
		},
	)

	RetentionDeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_retention_deletes_total",
			Help: "Total number of artifact deletes enqueued by the retention loop",
		},
	)

	// Notification metrics
	NotificationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_notification_queue_depth",
			Help: "Number of notifications queued for delivery",
		},
	)

	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_notifications_sent_total",
			Help: "Total number of notification delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Agent/transport metrics
	AgentsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_agents_connected",
			Help: "Number of agents currently holding an open WebSocket connection",
		},
	)

	AgentsEnrolled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_agents_enrolled",
			Help: "Total number of enrolled agents, connected or not",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Backup/restore operation metrics
	BackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_backup_duration_seconds",
			Help:    "Time taken to stream a backup artifact to its target",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"format"},
	)

	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_restore_duration_seconds",
			Help:    "Time taken to complete a restore operation",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)
)

func init() {
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(RunsByStatus)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(SnapshotDeleteQueueDepth)
	prometheus.MustRegister(RetentionDeletesTotal)
	prometheus.MustRegister(NotificationQueueDepth)
	prometheus.MustRegister(NotificationsSentTotal)
	prometheus.MustRegister(AgentsConnected)
	prometheus.MustRegister(AgentsEnrolled)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(RestoreDuration)
}

// Handler returns the Prometheus HTTP handler, mounted by internal/api at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
