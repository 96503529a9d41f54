// Package metrics holds the Prometheus collectors shared by the extraction pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AcquisitionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_acquisition_attempts_total",
			Help: "Text acquisition attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	AcquisitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoice_acquisition_duration_seconds",
			Help:    "Duration of single acquisition attempts in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	ResolverMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_resolver_matches_total",
			Help: "Business resolutions by matching tier, \"none\" for misses",
		},
		[]string{"tier"},
	)

	ResolverCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_resolver_cache_lookups_total",
			Help: "Resolver cache lookups by result",
		},
		[]string{"result"},
	)

	ResolverRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_resolver_rebuilds_total",
			Help: "Number of business index rebuilds",
		},
	)

	ExtractedInvoices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_extractions_total",
			Help: "Completed invoice extractions by validity",
		},
		[]string{"valid"},
	)
)

// Outcome labels for AcquisitionAttempts
const (
	OutcomeSuccess     = "success"
	OutcomeShort       = "short"
	OutcomeError       = "error"
	OutcomeUnsupported = "unsupported"
	OutcomePermanent   = "permanent"
)
