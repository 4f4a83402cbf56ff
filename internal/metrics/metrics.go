package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamclaude_ingest_events_total",
		Help: "Accepted events, labelled by whether the raw write was stored or deduplicated.",
	}, []string{"result"})

	IngestRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamclaude_ingest_rejected_total",
		Help: "Ingestion requests rejected by validation.",
	})

	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamclaude_heartbeats_total",
		Help: "Heartbeats received.",
	})

	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamclaude_presence_transitions_total",
		Help: "Presence state changes emitted, labelled by the new state.",
	}, []string{"state"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "teamclaude_presence_tick_duration_seconds",
		Help:    "Time taken by one presence sweep.",
		Buckets: prometheus.DefBuckets,
	})

	TickRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamclaude_presence_tick_records_total",
		Help: "Presence records visited by sweeps.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teamclaude_ws_subscribers",
		Help: "Currently connected presence subscribers.",
	})
)
