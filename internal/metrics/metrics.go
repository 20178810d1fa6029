package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartattend_checkins_total",
		Help: "Check-in attempts by outcome code.",
	}, []string{"code"})

	verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartattend_verify_duration_seconds",
		Help:    "End-to-end face verification duration.",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveCheckin records one completed check-in attempt.
func ObserveCheckin(code string, elapsed time.Duration) {
	checkins.WithLabelValues(code).Inc()
	verifyDuration.Observe(elapsed.Seconds())
}
