package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_alert"

// Metrics holds the Prometheus counters, histograms, and gauges for the alerting engine.
type Metrics struct {
	// Feed connection metrics.
	FeedState       prometheus.Gauge // 0 disconnected, 1 connecting, 2 connected, 3 closed
	FeedConnects    prometheus.Counter
	FeedReconnects  prometheus.Counter
	FeedDisconnects prometheus.Counter
	FeedExhausted   prometheus.Counter

	MessagesReceived  prometheus.Counter
	MalformedMessages prometheus.Counter
	StaleEvents       prometheus.Counter

	// Working set metrics.
	EventsIngested *prometheus.CounterVec // labels: result={inserted,replaced}
	EventsExpired  prometheus.Counter
	StoreSize      prometheus.Gauge

	Notifications      *prometheus.CounterVec // labels: outcome={delivered,failed}
	RiskRecomputations prometheus.Counter
	StreamClients      prometheus.Gauge

	SeedDuration  prometheus.Histogram
	SweepDuration prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      "Feed client state: 0 disconnected, 1 connecting, 2 connected, 3 closed.",
		}),
		FeedConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_connects_total",
			Help:      "Successful feed connection handshakes.",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Reconnection attempts scheduled after a disconnect.",
		}),
		FeedDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_disconnects_total",
			Help:      "Feed connections lost or failed.",
		}),
		FeedExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnect_exhausted_total",
			Help:      "Times the reconnect cap was reached.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_received_total",
			Help:      "Total messages read from the live feed.",
		}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_malformed_messages_total",
			Help:      "Feed messages dropped because they could not be parsed.",
		}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_stale_events_total",
			Help:      "Feed events dropped because they were already past retention.",
		}),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events written to the working set by result.",
		}, []string{"result"}),
		EventsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_expired_total",
			Help:      "Events removed from the working set by retention sweeps.",
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_events",
			Help:      "Events currently held in the working set.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by outcome.",
		}, []string{"outcome"}),
		RiskRecomputations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_recomputations_total",
			Help:      "Region risk scores recomputed after invalidation.",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected UI stream websocket clients.",
		}),
		SeedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seed_duration_seconds",
			Help:      "Duration of the startup catalog seed.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a complete expiry sweep and snapshot refresh.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	prometheus.MustRegister(
		m.FeedState,
		m.FeedConnects,
		m.FeedReconnects,
		m.FeedDisconnects,
		m.FeedExhausted,
		m.MessagesReceived,
		m.MalformedMessages,
		m.StaleEvents,
		m.EventsIngested,
		m.EventsExpired,
		m.StoreSize,
		m.Notifications,
		m.RiskRecomputations,
		m.StreamClients,
		m.SeedDuration,
		m.SweepDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FeedState:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "feed_state"}),
		FeedConnects:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_connects_total"}),
		FeedReconnects:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_reconnects_total"}),
		FeedDisconnects:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_disconnects_total"}),
		FeedExhausted:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_reconnect_exhausted_total"}),
		MessagesReceived:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_messages_received_total"}),
		MalformedMessages:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_malformed_messages_total"}),
		StaleEvents:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_stale_events_total"}),
		EventsIngested:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_ingested_total"}, []string{"result"}),
		EventsExpired:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_expired_total"}),
		StoreSize:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "store_events"}),
		Notifications:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total"}, []string{"outcome"}),
		RiskRecomputations: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "risk_recomputations_total"}),
		StreamClients:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "stream_clients"}),
		SeedDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "seed_duration_seconds"}),
		SweepDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "sweep_duration_seconds"}),
	}
}
