// Package metrics holds the Prometheus collectors for the lane coordination service.
// Labels are kept to bounded enums: no lane, session or customer identifiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LaneTransitionsTotal counts lane session status transitions by target status.
	LaneTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_session_transitions_total",
		Help: "Total number of lane session status transitions, by target status.",
	}, []string{"status"})

	// ReservationConflictsTotal counts lost inventory races and rejected picks.
	ReservationConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_reservation_conflicts_total",
		Help: "Total number of reservation conflicts, by reason.",
	}, []string{"reason"})

	// InvariantViolationsTotal counts failed post-commit persistence assertions.
	InvariantViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_invariant_violations_total",
		Help: "Total number of persistence assertion failures, by rule.",
	}, []string{"rule"})

	// EventsBroadcastTotal counts lane events handed to the fan-out layer.
	EventsBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_events_broadcast_total",
		Help: "Total number of lane events broadcast, by event type.",
	}, []string{"type"})

	// EventsDroppedTotal counts events dropped for slow subscribers.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_events_dropped_total",
		Help: "Total number of lane events dropped, by reason.",
	}, []string{"reason"})

	// WaitlistOffersTotal counts waitlist offer lifecycle transitions.
	WaitlistOffersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_waitlist_offers_total",
		Help: "Total number of waitlist entry transitions, by target status.",
	}, []string{"status"})

	// StreamSubscribers tracks currently connected event stream clients.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lane_stream_subscribers",
		Help: "Current number of connected lane event stream subscribers.",
	})
)

// IncTransition records a lane session moving to status.
func IncTransition(status string) {
	LaneTransitionsTotal.WithLabelValues(status).Inc()
}

// IncConflict records a reservation conflict.
func IncConflict(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	ReservationConflictsTotal.WithLabelValues(reason).Inc()
}

// IncDrop records a dropped event.
func IncDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(reason).Inc()
}
