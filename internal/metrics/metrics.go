// Package metrics exposes prometheus collectors for the coordination
// layer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of message operations.",
		},
		[]string{"op", "result"},
	)

	HotTierReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_hot_tier_reads_total",
			Help: "Hot-tier message reads by outcome.",
		},
		[]string{"outcome"}, // hit, fallback, dropped
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Currently open WebSocket connections.",
		},
	)

	OnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Users with a live presence record.",
		},
	)

	ActiveCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_call_sessions",
			Help: "Call sessions currently held by the registry.",
		},
	)

	SignalsRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_signals_total",
			Help: "Signaling frames relayed by verb.",
		},
		[]string{"verb"},
	)
)

// MustRegister registers all collectors with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		MessagesTotal,
		HotTierReadsTotal,
		ActiveConnections,
		OnlineUsers,
		ActiveCalls,
		SignalsRelayedTotal,
	)
}
