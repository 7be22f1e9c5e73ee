package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	VideoUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_video_uploads_total",
			Help: "Total number of source video uploads",
		},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamvault_video_upload_size_bytes",
			Help:    "Size of uploaded source videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 15), // 1MB to 16GB
		},
	)

	// Pipeline Metrics
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_pipeline_runs_total",
			Help: "Total number of finished pipeline runs",
		},
		[]string{"status"},
	)

	PipelinesInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamvault_pipelines_in_progress",
			Help: "Number of pipeline runs currently executing",
		},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_pipeline_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1s to ~2 hours
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
		},
		[]string{"stage"},
	)

	// Transcoding Metrics
	TierTranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_tier_transcodes_total",
			Help: "Total number of tier conversions",
		},
		[]string{"tier", "status"},
	)

	TierTranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_tier_transcode_duration_seconds",
			Help:    "Tier conversion duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"tier"},
	)

	// Queue Metrics
	QueueDispositionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_queue_dispositions_total",
			Help: "Total number of consumed jobs by disposition",
		},
		[]string{"disposition"},
	)

	JobQueueTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamvault_job_queue_time_seconds",
			Help:    "Time jobs spend waiting in queue",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamvault_queue_depth",
			Help: "Messages waiting per queue",
		},
		[]string{"queue"},
	)

	// Signing Metrics
	SignedURLsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_signed_urls_issued_total",
			Help: "Total number of signed URL requests by outcome",
		},
		[]string{"outcome"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"event", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// Business Metrics
	VideoDurationProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_video_duration_processed_seconds_total",
			Help: "Total duration of source video processed in seconds",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordUpload records an accepted source upload
func RecordUpload(sizeBytes int64) {
	VideoUploadsTotal.Inc()
	VideoUploadSizeBytes.Observe(float64(sizeBytes))
}

// PipelineStarted marks a run as in progress
func PipelineStarted() {
	PipelinesInProgress.Inc()
}

// RecordPipelineRun records a finished run and releases its in-progress slot
func RecordPipelineRun(status string, duration float64) {
	PipelinesInProgress.Dec()
	PipelineRunsTotal.WithLabelValues(status).Inc()
	PipelineDuration.WithLabelValues(status).Observe(duration)
}

// RecordStage records the duration of one pipeline stage
func RecordStage(stage string, duration float64) {
	StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordTierTranscode records one tier conversion
func RecordTierTranscode(tier, status string, duration float64) {
	TierTranscodesTotal.WithLabelValues(tier, status).Inc()
	TierTranscodeDuration.WithLabelValues(tier).Observe(duration)
}

// RecordQueueDisposition records how a consumed job was settled
func RecordQueueDisposition(disposition string, queueTime float64) {
	QueueDispositionsTotal.WithLabelValues(disposition).Inc()
	if queueTime >= 0 {
		JobQueueTime.Observe(queueTime)
	}
}

// SetQueueDepth records the number of messages waiting in a queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordSignedURL records a signing request outcome
func RecordSignedURL(outcome string) {
	SignedURLsIssuedTotal.WithLabelValues(outcome).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt
func RecordWebhookDelivery(event, status string) {
	WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

// RecordVideoDuration adds processed source duration
func RecordVideoDuration(seconds float64) {
	VideoDurationProcessed.Add(seconds)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
