package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const subsystem = "forwarder"

type RequestOutcome string

const (
	RequestOutcomeRelayed       RequestOutcome = "relayed"
	RequestOutcomeExcluded      RequestOutcome = "excluded"
	RequestOutcomeUnauthorized  RequestOutcome = "unauthorized"
	RequestOutcomeRouteMissing  RequestOutcome = "route_missing"
	RequestOutcomeUnreachable   RequestOutcome = "unreachable"
	RequestOutcomeBackendError  RequestOutcome = "backend_error"
	RequestOutcomeInternalError RequestOutcome = "internal_error"
	RequestOutcomeAborted       RequestOutcome = "aborted"
)

var (
	connectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connections_accepted",
		Help:      "Client connections accepted",
	})

	connectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connections_rejected",
		Help:      "Client connections rejected because every handler slot was busy",
	})

	connectionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connections_in_flight",
		Help:      "Client connections currently being handled",
	})

	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests",
		Help:      "Handled requests by outcome",
	}, []string{"outcome"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "auth_failures",
		Help:      "Rejected requests by reason",
	}, []string{"reason"})

	backendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "backend_duration_seconds",
		Help:      "Time spent relaying a request to a backend and reading its response",
		Buckets:   prometheus.DefBuckets,
	}, []string{"target", "status"})
)

func IncConnectionsAccepted() {
	connectionsAccepted.Inc()
}

func IncConnectionsRejected() {
	connectionsRejected.Inc()
}

// TrackConnection Count a connection as in flight until the returned function is called.
func TrackConnection() func() {
	connectionsInFlight.Inc()
	return connectionsInFlight.Dec
}

func IncRequests(outcome RequestOutcome) {
	inc(requests, string(outcome))
}

func IncAuthFailures(reason string) {
	inc(authFailures, reason)
}

// ObserveBackendDuration Record a backend round trip. Use status 0 for exchanges that produced no response.
func ObserveBackendDuration(target string, status int, duration time.Duration) {
	m, err := backendDuration.GetMetricWithLabelValues(target, strconv.Itoa(status))
	if err != nil {
		log.Warnf("get metric: %v", err)
	} else {
		m.Observe(duration.Seconds())
	}
}
