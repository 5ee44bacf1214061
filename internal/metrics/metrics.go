// Package metrics holds the process's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP
var (
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain
var (
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})

	RefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refreshes_total",
		Help: "Refresh token rotations by outcome.",
	}, []string{"outcome"})

	JoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_joins_total",
		Help: "Community join attempts by outcome.",
	}, []string{"outcome"})

	OutboxEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_outbox_events_total",
		Help: "Outbox events relayed to the bus by result.",
	}, []string{"result"})

	MemberCountCorrections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "community_member_count_corrections_total",
		Help: "Member counts corrected by the reconciler.",
	})
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeReuse   = "reuse"
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		HTTPInFlight, HTTPRequestsTotal, HTTPRequestDuration,
		LoginsTotal, RefreshesTotal, JoinsTotal,
		OutboxEventsTotal, MemberCountCorrections,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
