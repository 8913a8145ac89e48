package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpulse_readings_ingested_total",
			Help: "Readings handled by the ingest pipeline, by outcome",
		},
		[]string{"outcome"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetpulse_ingest_duration_seconds",
			Help:    "Time from request receipt to durable storage",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpulse_alerts_generated_total",
			Help: "Alert notifications created",
		},
		[]string{"alert_type"},
	)

	AlertsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpulse_alerts_skipped_total",
			Help: "Threshold crossings that did not create a notification",
		},
		[]string{"reason"},
	)

	FanoutDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpulse_fanout_dropped_total",
			Help: "Fan-out tasks dropped because the branch queue was full",
		},
		[]string{"branch"},
	)

	FanoutFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpulse_fanout_failed_total",
			Help: "Fan-out tasks that ended in an error",
		},
		[]string{"branch"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetpulse_queue_depth",
			Help: "Queued tasks per worker pool",
		},
		[]string{"pool"},
	)

	AdvisoryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpulse_advisory_requests_total",
			Help: "Advisory generation requests, by outcome",
		},
		[]string{"outcome"},
	)

	SchedulesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetpulse_maintenance_schedules_created_total",
			Help: "Maintenance schedules created automatically",
		},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetpulse_realtime_clients",
			Help: "Connected websocket subscribers",
		},
	)
)
