// Package metrics provides Prometheus instrumentation for the matcher. It
// exposes gauges for connections and rooms, counters for match outcomes and
// broker attempts, and a histogram for time-to-match.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Match request results.
const (
	ResultMatched     = "matched"
	ResultTimeout     = "timeout"
	ResultCancelled   = "cancelled"
	ResultRateLimited = "rate_limited"
	ResultError       = "error"
)

// Broker attempt outcomes.
const (
	OutcomeOwner    = "owner"
	OutcomeClaimed  = "claimed"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matcher_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsActive tracks rooms held by the local room store.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matcher_rooms_active",
		Help: "Current number of rooms in the local store",
	})

	// MatchRequests counts finished match requests by result.
	MatchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_match_requests_total",
		Help: "Total number of match requests by result",
	}, []string{"result"})

	// MatchDuration records the time from match request to match found.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matcher_match_duration_seconds",
		Help:    "Time from match request to match found",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60},
	})

	// CollaborationsStarted counts redirects into a collaboration room.
	CollaborationsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matcher_collaborations_started_total",
		Help: "Total number of collaboration sessions started",
	})

	// BrokerAttempts counts distributed matching attempts by outcome.
	BrokerAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_broker_attempts_total",
		Help: "Distributed matching attempts by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsActive,
		MatchRequests,
		MatchDuration,
		CollaborationsStarted,
		BrokerAttempts,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
