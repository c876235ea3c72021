package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tick pipeline metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_ticks_total",
			Help: "Total number of ticks executed across all containers",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lightning_tick_duration_seconds",
			Help:    "Tick pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SlowTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_slow_ticks_total",
			Help: "Total number of ticks that exceeded the tick budget",
		},
	)

	SnapshotsBuilt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_snapshots_built_total",
			Help: "Total number of snapshots built",
		},
	)

	ExecutionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightning_execution_errors_total",
			Help: "Total number of captured command and system errors by source",
		},
		[]string{"source"},
	)

	// Command queue metrics
	CommandsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_commands_submitted_total",
			Help: "Total number of commands accepted into queues",
		},
	)

	CommandsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightning_commands_rejected_total",
			Help: "Total number of rejected command submissions by reason",
		},
		[]string{"reason"},
	)

	// Streaming metrics
	FanoutSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightning_fanout_subscribers",
			Help: "Current number of streaming subscribers",
		},
	)

	FanoutDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_fanout_dropped_total",
			Help: "Total number of snapshots coalesced away for slow subscribers",
		},
	)

	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lightning_nodes_total",
			Help: "Total number of engine nodes by status",
		},
		[]string{"status"},
	)

	MatchesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lightning_matches_total",
			Help: "Total number of matches by status",
		},
		[]string{"status"},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_heartbeats_total",
			Help: "Total number of heartbeats processed by the control plane",
		},
	)

	// Router metrics
	PlacementAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_placement_attempts_total",
			Help: "Total number of match placement attempts",
		},
	)

	PlacementsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightning_placements_failed_total",
			Help: "Total number of match placements that exhausted all candidates",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightning_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightning_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(SlowTicks)
	prometheus.MustRegister(SnapshotsBuilt)
	prometheus.MustRegister(ExecutionErrors)
	prometheus.MustRegister(CommandsSubmitted)
	prometheus.MustRegister(CommandsRejected)
	prometheus.MustRegister(FanoutSubscribers)
	prometheus.MustRegister(FanoutDropped)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(MatchesTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(PlacementAttempts)
	prometheus.MustRegister(PlacementsFailed)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer creates a timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
