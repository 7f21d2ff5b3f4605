// Package metrics exposes StormStack's Prometheus collectors. These are
// purely observational -- no subsystem behavior depends on them -- mirroring
// how the teacher's networking package instruments its snapshot publisher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TickDuration records how long each container's Tick call takes.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stormstack",
		Subsystem: "container",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single container tick.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"container_id"})

	// CommandsDrained counts commands drained from a match queue per tick.
	CommandsDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stormstack",
		Subsystem: "command",
		Name:      "drained_total",
		Help:      "Total number of commands drained from match queues.",
	}, []string{"match_id", "command_type"})

	// CommandFailures counts command executions whose result reported failure.
	CommandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stormstack",
		Subsystem: "command",
		Name:      "failures_total",
		Help:      "Total number of command executions that failed.",
	}, []string{"match_id", "command_type", "kind"})

	// ActiveConnections gauges currently open WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stormstack",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Number of currently open WebSocket connections.",
	})

	// ActiveSubscriptions gauges currently active match/connection subscription pairs.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stormstack",
		Subsystem: "subscription",
		Name:      "active",
		Help:      "Number of currently active match subscriptions.",
	})

	// SandboxTraps counts WASM traps by classified kind.
	SandboxTraps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stormstack",
		Subsystem: "sandbox",
		Name:      "traps_total",
		Help:      "Total number of WASM traps, labeled by classified kind.",
	}, []string{"kind"})

	// MailboxDrops counts broadcast messages dropped because they could not be
	// enqueued on a subscriber's mailbox (full, closed, or connection gone).
	MailboxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stormstack",
		Subsystem: "connection",
		Name:      "mailbox_drops_total",
		Help:      "Total number of outbound messages dropped per connection.",
	}, []string{"connection_id"})
)

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
