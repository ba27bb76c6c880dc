// Package metrics provides Prometheus metrics for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the playback orchestrator.
type Metrics struct {
	// Session lifecycle
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	IdleDisconnects   prometheus.Counter

	// Playback
	TracksPlayed     prometheus.Counter
	PlaybackFailures prometheus.Counter

	// Queue feeding
	TracksEnqueued prometheus.Counter
	IngestRequests prometheus.Counter
}

// New creates and registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "otobox_active_sessions",
			Help: "Current number of live playback sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		IdleDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_idle_disconnects_total",
			Help: "Total number of sessions destroyed by the idle monitor",
		}),
		TracksPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_tracks_played_total",
			Help: "Total number of tracks started on a transport",
		}),
		PlaybackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_playback_failures_total",
			Help: "Total number of transport playback failures",
		}),
		TracksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_tracks_enqueued_total",
			Help: "Total number of single tracks enqueued via commands",
		}),
		IngestRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "otobox_ingest_requests_total",
			Help: "Total number of playlist ingestion requests",
		}),
	}
}
