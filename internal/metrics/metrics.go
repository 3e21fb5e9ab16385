// Package metrics provides Prometheus instrumentation for the lobby server. It
// exposes gauges for connections, online users and log size, counters for
// message outcomes, moderation actions and truncations, and a histogram for
// submission latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of nicknames currently in the chat.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_online_users",
		Help: "Current number of joined nicknames",
	})

	// MessagesTotal counts submitted messages labeled by outcome:
	// "accepted", "invalid", "rate_limited", "muted", "muted_for_violation"
	// or "banned_for_violations".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lobby_messages_total",
		Help: "Total number of submitted messages by outcome",
	}, []string{"outcome"})

	// MessageLatency records submission handling latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lobby_message_latency_seconds",
		Help:    "Message submission handling latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// JoinsTotal counts join attempts labeled by result: "joined" or "ip_banned".
	JoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lobby_joins_total",
		Help: "Total number of join attempts by result",
	}, []string{"result"})

	// BansTotal counts IP bans issued for repeated violations.
	BansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_bans_total",
		Help: "Total number of IP bans issued",
	})

	// LogLength tracks the number of events retained in the shared log.
	LogLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_log_length",
		Help: "Number of events retained in the shared log",
	})

	// TruncationsTotal counts log truncation passes that dropped events.
	TruncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_log_truncations_total",
		Help: "Total number of log truncations",
	})

	// MissedEventsTotal counts events truncated before a lagging session saw them.
	MissedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_catchup_missed_events_total",
		Help: "Events dropped by truncation before a session delivered them",
	})

	// PersistFailuresTotal counts failed writes to event sinks.
	PersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_persist_failures_total",
		Help: "Total number of failed event sink writes",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		MessageLatency,
		JoinsTotal,
		BansTotal,
		LogLength,
		TruncationsTotal,
		MissedEventsTotal,
		PersistFailuresTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
