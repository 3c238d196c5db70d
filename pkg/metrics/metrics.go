package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	DevicesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jitbridge_devices_registered",
			Help: "Total number of registered devices",
		},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitbridge_registrations_total",
			Help: "Total registration attempts by result",
		},
		[]string{"result"},
	)

	// Address pool metrics
	AddressesLeased = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jitbridge_addresses_leased",
			Help: "Tunnel addresses currently leased from the pool",
		},
	)

	// Session metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jitbridge_sessions_total",
			Help: "Sessions currently tracked, by state",
		},
		[]string{"state"},
	)

	ActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitbridge_activations_total",
			Help: "Activation requests by disposition",
		},
		[]string{"disposition"},
	)

	// Worker pool metrics
	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jitbridge_jobs_submitted_total",
			Help: "Jobs submitted to the worker pool",
		},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitbridge_jobs_finished_total",
			Help: "Jobs finished, by outcome",
		},
		[]string{"outcome"},
	)

	RunningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jitbridge_jobs_running",
			Help: "Jobs currently executing",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jitbridge_jobs_queued",
			Help: "Jobs waiting for an execution slot",
		},
	)

	PoolSaturated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jitbridge_pool_saturated_total",
			Help: "Submissions that had to queue because all slots were busy",
		},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jitbridge_job_duration_seconds",
			Help:    "Activation job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitbridge_api_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DevicesRegistered)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(AddressesLeased)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(ActivationsTotal)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(RunningJobs)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(PoolSaturated)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
