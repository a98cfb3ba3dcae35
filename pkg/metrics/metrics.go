package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Broker metrics
	AccessRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medlock_access_requests_total",
			Help: "Total number of broker access requests by audit status",
		},
		[]string{"status"},
	)

	RevocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medlock_revocations_total",
			Help: "Total number of revocations by kind (user or blanket)",
		},
		[]string{"kind"},
	)

	UploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medlock_uploads_total",
			Help: "Total number of objects uploaded",
		},
	)

	KeyOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medlock_key_operations_total",
			Help: "Total number of key operations by kind (wrap, unwrap, generate)",
		},
		[]string{"op"},
	)

	RewrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medlock_rewrap_duration_seconds",
			Help:    "Time to unwrap and re-wrap a content key for a granted request",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Audit metrics
	AuditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medlock_audit_records_total",
			Help: "Total number of audit records appended by action",
		},
		[]string{"action"},
	)

	AuditAppendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medlock_audit_append_failures_total",
			Help: "Total number of failed audit log appends",
		},
	)

	// Inventory gauges (updated by the Collector)
	UsersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medlock_users_total",
			Help: "Total number of registered users by role",
		},
		[]string{"role"},
	)

	ObjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "medlock_objects_total",
			Help: "Total number of stored object records",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "medlock_sessions_active",
			Help: "Number of unexpired sessions",
		},
	)

	// API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medlock_http_requests_total",
			Help: "Total number of HTTP requests by path, method and status code",
		},
		[]string{"path", "method", "code"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medlock_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AccessRequestsTotal)
	prometheus.MustRegister(RevocationsTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(KeyOperationsTotal)
	prometheus.MustRegister(RewrapDuration)
	prometheus.MustRegister(AuditRecordsTotal)
	prometheus.MustRegister(AuditAppendFailures)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(ObjectsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
