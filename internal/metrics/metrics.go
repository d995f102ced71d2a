package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload lifecycle counters
var (
	// UploadsInitiatedTotal counts initiations by mode (direct, multipart)
	UploadsInitiatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_uploads_initiated_total",
			Help: "Total number of uploads initiated",
		},
		[]string{"mode"},
	)

	// UploadsCompletedTotal counts successful completions by mode
	UploadsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_uploads_completed_total",
			Help: "Total number of uploads completed",
		},
		[]string{"mode"},
	)

	// UploadsAbortedTotal counts uploads moved to failed, by reason (cancelled, expired)
	UploadsAbortedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_uploads_aborted_total",
			Help: "Total number of uploads aborted",
		},
		[]string{"reason"},
	)

	// PartURLsIssuedTotal counts presigned part URLs handed out
	PartURLsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_part_urls_issued_total",
			Help: "Total number of presigned part upload URLs issued",
		},
	)

	// DownloadURLsIssuedTotal counts presigned download URLs handed out
	DownloadURLsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_download_urls_issued_total",
			Help: "Total number of presigned download URLs issued",
		},
	)

	// StorageErrorsTotal counts failed gateway calls by operation
	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_storage_errors_total",
			Help: "Total number of failed storage gateway operations",
		},
		[]string{"op"},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ErrorsTotal counts error responses by kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_errors_total",
			Help: "Total number of error responses by kind",
		},
		[]string{"kind"},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// UploadSizeBytes tracks declared sizes of completed uploads
	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "chunkvault_upload_size_bytes",
			Help: "Distribution of completed upload sizes in bytes",
			Buckets: []float64{
				1024,       // 1 KB
				102400,     // 100 KB
				1048576,    // 1 MB
				5242880,    // 5 MB
				10485760,   // 10 MB
				52428800,   // 50 MB
				104857600,  // 100 MB
				1073741824, // 1 GB
			},
		},
	)

	// UploadPartCount tracks the number of parts committed per multipart upload
	UploadPartCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chunkvault_upload_part_count",
			Help:    "Parts committed per multipart upload",
			Buckets: []float64{2, 3, 5, 10, 20, 50, 100, 1000, 10000},
		},
	)
)

// Health check metrics
var (
	// HealthStatus is a gauge representing current health status
	// Values: 0 = unhealthy, 1 = degraded, 2 = healthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkvault_health_status",
			Help: "Current health status (0=unhealthy, 1=degraded, 2=healthy)",
		},
	)

	// HealthCheckDuration tracks health check execution time
	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chunkvault_health_check_duration_seconds",
			Help:    "Health check execution time in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// HealthChecksTotal counts health checks by resulting status
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_health_checks_total",
			Help: "Total number of health checks performed",
		},
		[]string{"status"},
	)
)
