// Package metrics provides Prometheus metrics collection for kiln.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestrator state gauge values.
const (
	StateIdle            = 0
	StateBuilding        = 1
	StateBuildingPending = 2
)

// Collector holds all Prometheus metrics for kiln.
type Collector struct {
	// Request metrics
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Build metrics
	BuildsTotal      *prometheus.CounterVec
	BuildsSuperseded prometheus.Counter
	BuildDuration    *prometheus.HistogramVec
	BuildModules     prometheus.Histogram
	QueueState       prometheus.Gauge

	// Resolver metrics
	Resolutions    *prometheus.CounterVec
	ResolutionMiss prometheus.Counter

	// Channel metrics
	ChannelMessages *prometheus.CounterVec
	ActiveChannels  prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		// Request metrics
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kiln",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kiln",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		// Build metrics
		BuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "builds_total",
				Help:      "Total number of builds by outcome",
			},
			[]string{"outcome"},
		),
		BuildsSuperseded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "builds_superseded_total",
				Help:      "Total number of queued builds overwritten by a newer submission",
			},
		),
		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kiln",
				Name:      "build_duration_seconds",
				Help:      "Build duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		BuildModules: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "kiln",
				Name:      "build_modules",
				Help:      "Virtual modules per submitted build",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		QueueState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kiln",
				Name:      "queue_state",
				Help:      "Orchestrator state: 0 idle, 1 building, 2 building with pending",
			},
		),

		// Resolver metrics
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "resolutions_total",
				Help:      "Resolved specifiers by result namespace",
			},
			[]string{"namespace"},
		),
		ResolutionMiss: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "resolution_misses_total",
				Help:      "Specifiers that matched no namespace and were deferred to load-time errors",
			},
		),

		// Channel metrics
		ChannelMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "channel_messages_total",
				Help:      "Host channel messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		ActiveChannels: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kiln",
				Name:      "active_channels",
				Help:      "Currently registered host channels",
			},
		),

		// Config metrics
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kiln",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// NormalizePath reduces label cardinality. The files API embeds arbitrary
// workspace paths, which would otherwise mint one series per file.
func NormalizePath(path string) string {
	if strings.HasPrefix(path, "/api/v1/files/") {
		return "/api/v1/files/:path"
	}
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}
