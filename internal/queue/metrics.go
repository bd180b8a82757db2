package queue

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "publishqueue"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of queue items by action type and status",
		},
		[]string{"action_type", "status"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items_processed_total",
			Help:      "Queue items processed by outcome",
		},
		[]string{"action_type", "outcome"},
	)

	execDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "exec_duration_seconds",
			Help:      "Time spent executing a publishing action",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action_type"},
	)

	itemsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items_claimed_total",
			Help:      "Items claimed from the queue before execution. Sum of items_processed_total should match this.",
		},
	)

	staleClaimsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "stale_claims_released_total",
			Help:      "Items reverted to pending by the crash-recovery sweep",
		},
	)
)

// recordItemProcessed records a processed item by outcome.
func recordItemProcessed(actionType, outcome string) {
	itemsProcessed.WithLabelValues(actionType, outcome).Inc()
}

// recordExecDuration records execution duration for an action type.
func recordExecDuration(actionType string, duration time.Duration) {
	execDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// recordQueueClaimed records the number of items claimed in a batch.
func recordQueueClaimed(count int) {
	itemsClaimed.Add(float64(count))
}

// recordStaleReleased records items released by the sweep.
func recordStaleReleased(count int64) {
	staleClaimsReleased.Add(float64(count))
}

// queueSizeSeen remembers which (action_type, status) pairs have been
// reported so pairs that drain out of the aggregate can be zeroed.
var (
	queueSizeMu   sync.Mutex
	queueSizeSeen = make(map[string]struct{})
)

// RecordQueueSize updates queue size gauges from an aggregate snapshot.
// Callers pass the full aggregate each collection cycle; pairs absent from
// the snapshot are set to zero, not left at their last value.
func RecordQueueSize(counts StatusCounts) {
	queueSizeMu.Lock()
	defer queueSizeMu.Unlock()

	for key := range queueSizeSeen {
		if _, ok := counts[key]; ok {
			continue
		}
		if action, status, ok := strings.Cut(key, "::"); ok {
			queueSize.WithLabelValues(action, status).Set(0)
		}
		delete(queueSizeSeen, key)
	}

	for key, count := range counts {
		action, status, ok := strings.Cut(key, "::")
		if !ok {
			continue
		}
		queueSize.WithLabelValues(action, status).Set(float64(count))
		queueSizeSeen[key] = struct{}{}
	}
}
