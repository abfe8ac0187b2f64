package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Push channel metrics
var (
	// SubscribersCurrent tracks the number of connected push subscribers
	SubscribersCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orientation_subscribers_current",
			Help: "Number of connected push subscribers",
		},
	)

	// FramesBroadcastTotal counts frames delivered to subscribers
	FramesBroadcastTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orientation_frames_broadcast_total",
			Help: "Total orientation frames delivered to push subscribers",
		},
	)

	// SubscriberWriteFailuresTotal counts subscribers dropped after a failed write
	SubscriberWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orientation_subscriber_write_failures_total",
			Help: "Total push subscribers removed after a failed write",
		},
	)
)

// Event loop metrics
var (
	// TicksTotal counts broadcast ticks that had at least one subscriber
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orientation_ticks_total",
			Help: "Total broadcast ticks with at least one subscriber",
		},
	)

	// TickDuration tracks the time spent reading, encoding and sending one tick
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orientation_tick_duration_seconds",
			Help:    "Duration of one broadcast tick in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		},
	)
)

// HTTP metrics
var (
	// HTTPResponsesTotal counts responses by route and status code
	HTTPResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orientation_http_responses_total",
			Help: "Total HTTP responses by route and status code",
		},
		[]string{"route", "code"},
	)

	// ConfigUpdatesTotal counts runtime configuration assignments by field and result
	ConfigUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orientation_config_updates_total",
			Help: "Total runtime configuration assignments by field and result (applied/ignored)",
		},
		[]string{"field", "result"},
	)
)
