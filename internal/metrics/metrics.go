// Package metrics provides prometheus instrumentation for the leaderboard
// service. Collectors are registered on the default registry; serve them
// with Handler().
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ClientsConnected counts currently connected websocket viewers.
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leaderboard",
		Name:      "clients_connected",
		Help:      "Number of currently connected websocket clients.",
	})

	// ClientsDropped counts viewers disconnected for being too slow.
	ClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "clients_dropped_total",
		Help:      "Clients forcibly unregistered because their send buffer filled.",
	})

	// BroadcastsSent counts leaderboard updates fanned out by the hub.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "broadcasts_total",
		Help:      "Leaderboard update broadcasts processed by the hub.",
	})

	// EventsReceived counts decoded domain events by type.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "events_received_total",
		Help:      "Domain events received from the event stream, by type.",
	}, []string{"type"})

	// EventsDropped counts frames discarded as malformed or incomplete.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "events_dropped_total",
		Help:      "Event frames dropped because they could not be decoded or lacked a competition ID.",
	})

	// Reconnects counts subscriber reconnection attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "event_stream_reconnects_total",
		Help:      "Reconnection attempts to the event stream.",
	})

	// CacheHits counts leaderboard computations served from cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "cache_hits_total",
		Help:      "Leaderboard reads served from the TTL cache.",
	})

	// CacheMisses counts leaderboard computations requiring a fetch.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "cache_misses_total",
		Help:      "Leaderboard reads that required fetching from the record store.",
	})

	// FetchErrors counts failed record-store queries.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "fetch_errors_total",
		Help:      "Record store queries that failed or timed out.",
	})
)

// Handler returns the prometheus scrape handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
