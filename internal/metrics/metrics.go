package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served on /metrics.
	Registry = prometheus.NewRegistry()

	// DeliveryAttempts counts send attempts by event and outcome (sent, retrying, failed).
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_delivery_attempts_total", Help: "Webhook delivery attempts by event and outcome."},
		[]string{"event", "outcome"},
	)
	// DeliveryLatency tracks the HTTP round trip of each attempt.
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000}},
		[]string{"event", "outcome"},
	)
	// DeliveriesCreated counts rows created by fanout.
	DeliveriesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_created_total", Help: "Webhook deliveries created by fanout."},
		[]string{"event"},
	)
	// TransformFailures counts transforms that fell back to the original payload.
	TransformFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_transform_failures_total", Help: "Payload transforms that failed and fell back to the original payload."},
	)
	// BatchDue records how many deliveries each processor pass picked up.
	BatchDue = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "webhook_processor_batch_due", Help: "Due deliveries per processor pass.", Buckets: []float64{0, 1, 5, 10, 25, 50, 100}},
	)
	// LeaseContention counts deliveries skipped because another poller held the lease.
	LeaseContention = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_lease_contention_total", Help: "Due deliveries skipped because their lease was held elsewhere."},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(DeliveryAttempts)
		Registry.MustRegister(DeliveryLatency)
		Registry.MustRegister(DeliveriesCreated)
		Registry.MustRegister(TransformFailures)
		Registry.MustRegister(BatchDue)
		Registry.MustRegister(LeaseContention)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// ObserveAttempt records one delivery attempt.
func ObserveAttempt(event, outcome string, elapsed time.Duration) {
	DeliveryAttempts.WithLabelValues(event, outcome).Inc()
	DeliveryLatency.WithLabelValues(event, outcome).Observe(float64(elapsed.Milliseconds()))
}
