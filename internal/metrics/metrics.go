// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for message
// throughput and push jobs, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with a registered connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Current number of users marked online",
	})

	// MessagesTotal counts processed messages, labeled by outcome:
	// "sent", "rejected", "deleted" or "seen".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// SendLatency records the time from receiving a send to its room broadcast.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_send_latency_seconds",
		Help:    "Message send latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PushTotal counts push jobs, labeled by result: "queued", "skipped",
	// "failed", "delivered".
	PushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_total",
		Help: "Total number of push notification jobs",
	}, []string{"result"})

	// TaskFailures counts background cascade tasks that returned an error or panicked.
	TaskFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_task_failures_total",
		Help: "Background tasks that failed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		SendLatency,
		PushTotal,
		TaskFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
