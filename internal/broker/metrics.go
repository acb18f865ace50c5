package broker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "attempts_total",
		Help:      "Dispatch attempts by outcome.",
	}, []string{"outcome"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of one dispatch attempt.",
		Buckets:   prometheus.DefBuckets,
	})

	candidatesReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "candidates_returned",
		Help:      "Riders returned by the candidate source per attempt.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	candidateSourceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "candidate_source_errors_total",
		Help:      "Candidate source failures degraded to an empty result.",
	})

	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "notification_failures_total",
		Help:      "Rider notifications that could not be queued after an assignment.",
	})
)

// Outcome labels for dispatchTotal.
const (
	outcomeAssigned   = "assigned"
	outcomeBroadcast  = "broadcast"
	outcomeNotFound   = "not_found"
	outcomeLost       = "lost"
	outcomeUnresolved = "pickup_unresolved"
	outcomeError      = "error"
)

func outcomeLabel(o *Outcome, err error) string {
	switch {
	case err == nil && o != nil && o.Action == ActionAssigned:
		return outcomeAssigned
	case err == nil:
		return outcomeBroadcast
	case errors.Is(err, ErrOrderNotFound):
		return outcomeNotFound
	case errors.Is(err, ErrAssignmentLost):
		return outcomeLost
	case errors.Is(err, ErrPickupUnresolved):
		return outcomeUnresolved
	default:
		return outcomeError
	}
}

func observeDispatch(o *Outcome, err error, elapsed time.Duration) {
	dispatchTotal.WithLabelValues(outcomeLabel(o, err)).Inc()
	dispatchDuration.Observe(elapsed.Seconds())
}
