// Package metrics registers the Prometheus instrumentation for the
// access pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	VerificationsGranted prometheus.Counter
	VerificationsDenied  prometheus.Counter
	Enrollments          prometheus.Counter
	PINFallbacks         prometheus.Counter
	LedgerAppendFailures prometheus.Counter
	MatchScore           prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer so tests can
// use an isolated registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivelock_verifications_granted_total",
			Help: "Total number of granted access decisions.",
		}),
		VerificationsDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivelock_verifications_denied_total",
			Help: "Total number of denied access decisions.",
		}),
		Enrollments: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivelock_enrollments_total",
			Help: "Total number of completed five-pose enrollments.",
		}),
		PINFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivelock_pin_fallbacks_total",
			Help: "Total number of PIN fallback attempts.",
		}),
		LedgerAppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivelock_ledger_append_failures_total",
			Help: "Total number of ledger appends that exhausted retries.",
		}),
		MatchScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "drivelock_match_score",
			Help:    "Distribution of normalized match scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}
