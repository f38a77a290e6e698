package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hradmin_client"

// Metrics holds the collectors shared by the coordinator and the executor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	refreshJoins  prometheus.Counter
	requests      *prometheus.CounterVec
	retries       prometheus.Counter
	forcedLogouts *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh-token network calls by outcome.",
		}, []string{"outcome"}),
		refreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_joins_total",
			Help:      "Callers that waited on an in-flight refresh instead of starting one.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Backend requests by method and status class.",
		}, []string{"method", "class"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests retried after a 401 and a token refresh.",
		}),
		forcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logouts_total",
			Help:      "Sessions terminated by an unrecoverable auth failure.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.refreshJoins, m.requests, m.retries, m.forcedLogouts)
	}
	return m
}

func (m *Metrics) RefreshDone(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.refreshJoins.Inc()
}

func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, StatusClass(status)).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ForcedLogout(reason string) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(reason).Inc()
}

// StatusClass buckets an HTTP status into "2xx".."5xx", or "error" when no
// response was received.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "error"
	}
}
