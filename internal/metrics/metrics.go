// Package metrics exposes the Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts raw events handed to the classifier, per
	// ingestion strategy ("stream" or "batch").
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollbot_events_received_total",
		Help: "Raw events received from the ingestion source.",
	}, []string{"strategy"})

	// PollsDetected counts relevant polls that passed every predicate.
	PollsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollbot_polls_detected_total",
		Help: "Polls classified as relevant.",
	}, []string{"strategy"})

	// ClassifierErrors counts per-item data-integrity failures.
	ClassifierErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_classifier_errors_total",
		Help: "Events dropped because of malformed payload data.",
	})

	// AlertsSent counts Telegram alerts delivered successfully.
	AlertsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_alerts_sent_total",
		Help: "Alerts delivered to the notification endpoint.",
	})

	// AlertsFailed counts alerts dropped after exhausting retries.
	AlertsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_alerts_failed_total",
		Help: "Alerts dropped after the retry budget was spent.",
	})

	// DedupSkips counts batch events skipped because their id was already
	// in the remote snapshot.
	DedupSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_dedup_skips_total",
		Help: "Batch events skipped as already processed.",
	})

	// StreamReconnects counts stream reconnect attempts.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_stream_reconnects_total",
		Help: "Reconnect attempts of the filtered stream.",
	})
)
