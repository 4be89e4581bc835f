// Package metrics exposes Prometheus collectors for the session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_sessions_created_total",
		Help: "Total number of session create requests that allocated a new session",
	})

	SessionRejoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_session_rejoins_total",
		Help: "Total number of create requests that rejoined an in-flight session",
	})

	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_live_sessions",
		Help: "Number of sessions with a bound connection driver",
	})

	DriverEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_driver_events_total",
		Help: "Total number of connection driver events processed, by kind",
	}, []string{"kind"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_webhook_deliveries_total",
		Help: "Total number of webhook notification deliveries, by outcome",
	}, []string{"outcome"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_messages_sent_total",
		Help: "Total number of outbound messages accepted by the driver",
	})

	MessagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_messages_failed_total",
		Help: "Total number of outbound messages rejected or failed",
	})

	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_store_write_failures_total",
		Help: "Total number of session store writes that failed and were swallowed",
	})
)
