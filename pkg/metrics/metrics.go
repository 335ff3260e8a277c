// Package metrics holds the process-wide prometheus collectors of the graph store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Writes counts store mutations by entity (object, relationship), operation and outcome.
	Writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_writes_total",
		Help: "Graph store writes by entity, operation and outcome",
	}, []string{"entity", "op", "outcome"})

	// WriteRetries counts writes replayed after losing a version race.
	WriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_write_retries_total",
		Help: "Writes replayed after a (canonical_id, version) collision",
	}, []string{"entity"})

	MultiplicityViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_multiplicity_violations_total",
		Help: "Relationship writes rejected by a multiplicity rule",
	}, []string{"type"})

	ValidatorCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_validator_cache_total",
		Help: "Schema validator cache lookups by result (hit, miss, invalidate)",
	}, []string{"result"})

	TraversalNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_traversal_nodes",
		Help:    "Nodes returned per traversal",
		Buckets: prometheus.ExponentialBuckets(1, 4, 7),
	})

	TraversalsTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_traversals_truncated_total",
		Help: "Traversals stopped by the node cap with frontier remaining",
	})

	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_search_duration_seconds",
		Help:    "Hybrid search latency by leg (lexical, vector, total)",
		Buckets: prometheus.DefBuckets,
	}, []string{"leg"})

	// LineageDefects is set by the lineage audit to the number of broken chains found.
	LineageDefects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_lineage_defects",
		Help: "Canonical ids with non-contiguous versions or broken supersedes links",
	}, []string{"entity"})

	// HTTPRequests observes handler latency keyed by route template, not raw path.
	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_http_request_duration_seconds",
		Help:    "HTTP request latency by route, method and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_db_query_duration_seconds",
		Help:    "Statement latency by SQL operation and outcome",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
	}, []string{"operation", "outcome"})

	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_scheduled_task_runs_total",
		Help: "Scheduled task runs by task and outcome",
	}, []string{"task", "outcome"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_scheduled_task_duration_seconds",
		Help:    "Scheduled task run time",
		Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
	}, []string{"task"})

	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graph_event_subscribers",
		Help: "Open change stream subscriptions",
	})
)
