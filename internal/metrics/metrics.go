package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal counts per-contact batch outcomes.
	// Labels:
	// - template: template key, or "none" when the sequence was complete
	// - outcome:  "sent", "failed", "dry_run", "complete", "recovered", "conflict", "error"
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dripline",
			Subsystem: "sequence",
			Name:      "dispatch_total",
			Help:      "Number of contacts processed by batch runs, by outcome",
		},
		[]string{"template", "outcome"},
	)

	// batchDuration tracks how long a batch run takes.
	// Labels:
	// - mode: "live" or "dry_run"
	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dripline",
			Subsystem: "sequence",
			Name:      "batch_duration_seconds",
			Help:      "Duration of sequence batch runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	// unsubscribeTotal counts successful unsubscribes.
	// Labels:
	// - method: "one_click" or "manual"
	unsubscribeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dripline",
			Subsystem: "consent",
			Name:      "unsubscribe_total",
			Help:      "Number of processed unsubscribe requests",
		},
		[]string{"method"},
	)

	// rateLimitExceeded counts HTTP 429 events from the rate limit middleware.
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dripline",
			Subsystem: "http",
			Name:      "rate_limit_exceeded_total",
			Help:      "Number of requests rejected due to rate limiting (HTTP 429)",
		},
		[]string{"endpoint"},
	)
)

// IncDispatch increments the batch outcome counter.
func IncDispatch(template, outcome string) {
	if template == "" {
		template = "none"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	dispatchTotal.WithLabelValues(template, outcome).Inc()
}

// ObserveBatchDuration records the duration of a batch run in seconds.
func ObserveBatchDuration(dryRun bool, seconds float64) {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	batchDuration.WithLabelValues(mode).Observe(seconds)
}

// IncUnsubscribe increments the unsubscribe counter.
func IncUnsubscribe(method string) {
	if method == "" {
		method = "unknown"
	}
	unsubscribeTotal.WithLabelValues(method).Inc()
}

// IncRateLimitExceeded increments the 429 counter for the given endpoint.
func IncRateLimitExceeded(endpoint string) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	rateLimitExceeded.WithLabelValues(endpoint).Inc()
}
