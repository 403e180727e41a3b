package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// SDK-side sync engine metrics.
	EnqueuedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_enqueued_total", Help: "Submissions placed in the offline queue"})
	SyncedCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_synced_total", Help: "Queued submissions delivered successfully"})
	SyncFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_sync_failures_total", Help: "Delivery attempts that failed and will retry"})
	DroppedCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_dropped_total", Help: "Queued submissions evicted after exhausting the retry budget"})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "feedback_queue_depth", Help: "Submissions currently pending in the offline queue"})

	// Collector-side metrics.
	ReceivedCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_feedback_received_total", Help: "Feedback submissions accepted"})
	RejectedCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_feedback_rejected_total", Help: "Feedback submissions rejected by validation or auth"})
	DuplicateCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_feedback_duplicates_total", Help: "Redeliveries deduplicated by queue id"})
	ScreenshotCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_screenshots_stored_total", Help: "Screenshots processed and stored"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueuedCounter,
			SyncedCounter,
			SyncFailures,
			DroppedCounter,
			QueueDepthGauge,
			ReceivedCounter,
			RejectedCounter,
			DuplicateCounter,
			ScreenshotCounter,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
