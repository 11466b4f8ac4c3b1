package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_consumed_total",
		Help: "Change events consumed from the feed, by table",
	}, []string{"table"})

	InvalidEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_events_invalid_total",
		Help: "Change events dropped at the boundary as malformed",
	})

	DuplicateDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_duplicates_dropped_total",
		Help: "Events dropped by idempotent dedup, by kind",
	}, []string{"kind"})

	OrphanUpdates = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_orphan_updates",
		Help: "Read-state updates held waiting for their insert",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_feed_reconnects_total",
		Help: "Change feed reconnections",
	})

	Resyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_resyncs_total",
		Help: "Full state resyncs after a feed gap",
	})

	PushDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_push_deliveries_total",
		Help: "Push fan-out attempts, by outcome",
	}, []string{"outcome"})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_ws_active_connections",
		Help: "Active websocket connections",
	})
)

func Init() {
	prometheus.MustRegister(
		EventsConsumed,
		InvalidEvents,
		DuplicateDrops,
		OrphanUpdates,
		Reconnects,
		Resyncs,
		PushDeliveries,
		WSConnections,
	)
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
