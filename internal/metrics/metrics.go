// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by method, route pattern and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// ListOutcomes counts result list and export outcomes
	// (rendered, redirect, not_found, access_denied, exported).
	ListOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formvault_result_outcomes_total",
			Help: "Result list and export outcomes",
		},
		[]string{"operation", "outcome"},
	)
	// DroppedFilters counts filters that compiled to no predicate.
	DroppedFilters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formvault_dropped_filters_total",
			Help: "Search and column filters ignored because they were not recognized",
		},
		[]string{"kind"},
	)
	// ExportRows counts rows written by exports, by format.
	ExportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formvault_export_rows_total",
			Help: "Submission rows written by exports",
		},
		[]string{"format"},
	)
	// PreferencesPruned counts viewer preferences removed by the scheduler.
	PreferencesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "formvault_preferences_pruned_total",
			Help: "Viewer preferences removed for age",
		},
	)
	// RateLimited counts API requests rejected for exceeding the per-client
	// rate, by client kind (viewer or ip).
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formvault_rate_limited_total",
			Help: "API requests rejected by the rate limiter",
		},
		[]string{"kind"},
	)
)
