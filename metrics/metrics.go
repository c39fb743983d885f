package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Client-facing WebSocket metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_client_connections_active",
		Help: "The current number of active client WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_client_connections_total",
		Help: "The total number of client WebSocket connections accepted.",
	})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_client_messages_received_total",
		Help: "The total number of frames received from clients.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_client_messages_sent_total",
		Help: "The total number of events sent to clients.",
	})
	ClientsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_clients_evicted_total",
		Help: "The total number of clients evicted by the liveness check.",
	})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "The current number of active relay sessions.",
	})

	// Upstream metrics
	UpstreamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_upstream_connections_active",
		Help: "The current number of open upstream connections.",
	})
	UpstreamConnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_connect_failures_total",
		Help: "The total number of failed upstream connection attempts.",
	})
	EventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_forwarded_total",
		Help: "The total number of client events forwarded upstream.",
	}, []string{"event_type"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_dropped_total",
		Help: "The total number of client events dropped for an unrecognized type.",
	})
	UpstreamEventsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_events_relayed_total",
		Help: "The total number of upstream events relayed back to clients.",
	})

	// Auth metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_auth_success_total",
		Help: "The total number of successful client authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "The total number of failed client authentications.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("component", "metrics").Str("addr", addr).Str("path", path).Msg("starting metrics server")

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start metrics server")
		}
	}()
}
