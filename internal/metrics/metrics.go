package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "avatarchat_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	Exchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_exchanges_total",
			Help: "Backend exchanges by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	ExchangeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "avatarchat_exchange_latency_seconds",
			Help:    "Backend exchange latency in seconds, including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	RepliesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_replies_appended_total",
			Help: "Assistant replies appended to history",
		},
		[]string{"source"},
	)

	ExchangeInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarchat_exchange_in_flight",
			Help: "1 while a backend exchange is pending",
		},
	)

	PlaybackQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarchat_playback_queue",
			Help: "Unprocessed assistant replies waiting for playback",
		},
	)

	Playbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_playbacks_total",
			Help: "Finished reply playbacks by outcome",
		},
		[]string{"outcome"},
	)

	PlaybackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "avatarchat_playback_duration_seconds",
			Help:    "Time a reply stayed active",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarchat_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	TranscriptDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "avatarchat_transcript_dropped_total",
			Help: "Transcript writes dropped because the archive queue was full",
		},
	)
)
