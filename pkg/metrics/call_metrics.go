package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call signaling metrics
var (
	// Session lifecycle
	CallSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_sessions_active",
		Help: "Current number of live peer connection sessions",
	})

	CallsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_started_total",
		Help: "Total number of calls created or answered",
	}, []string{"direction", "call_type"}) // "outgoing", "incoming"

	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_ended_total",
		Help: "Total number of sessions ended, by reason",
	}, []string{"reason"})

	CallSetupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_setup_duration_seconds",
		Help:    "Time from offer write to applied answer",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"direction"})

	// Signaling store traffic
	SignalingWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_writes_total",
		Help: "Total number of signaling document writes",
	}, []string{"op", "status"}) // op: offer, answer, candidate, hangup

	SignalingCandidateRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_candidate_retries_total",
		Help: "Total number of retried ICE candidate writes",
	})

	SignalingClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_claim_conflicts_total",
		Help: "Total number of answers rejected because another callee answered first",
	})

	// Incoming call listener
	IncomingCallsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incoming_calls_delivered_total",
		Help: "Total number of incoming-call events raised",
	})

	IncomingCallsIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incoming_calls_ignored_total",
		Help: "Total number of call records skipped by the listener",
	}, []string{"reason"}) // "stale", "answered", "no_offer"

	IncomingCallsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incoming_calls_cancelled_total",
		Help: "Total number of delivered incoming calls later withdrawn",
	})

	// Janitor
	CallRecordsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_records_expired_total",
		Help: "Total number of unanswered call records removed after their TTL",
	})

	// Push
	PushNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "push_notifications_total",
		Help: "Total number of push notifications sent",
	}, []string{"type", "status"})
)

// RecordSignalingWrite records one signaling write outcome
func RecordSignalingWrite(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SignalingWritesTotal.WithLabelValues(op, status).Inc()
}

// RecordCallStarted records a created or answered call
func RecordCallStarted(direction, callType string) {
	CallsStartedTotal.WithLabelValues(direction, callType).Inc()
}

// RecordCallEnded records the end of a session
func RecordCallEnded(reason string) {
	CallsEndedTotal.WithLabelValues(reason).Inc()
}

// RecordCallSetup records how long an answer took to arrive
func RecordCallSetup(direction string, d time.Duration) {
	CallSetupDuration.WithLabelValues(direction).Observe(d.Seconds())
}

// RecordIncomingIgnored records a call record the listener skipped
func RecordIncomingIgnored(reason string) {
	IncomingCallsIgnoredTotal.WithLabelValues(reason).Inc()
}

// RecordPushNotification records one push send
func RecordPushNotification(notifType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PushNotificationsTotal.WithLabelValues(notifType, status).Inc()
}
