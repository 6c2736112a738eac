// Package metrics defines the prometheus collectors for session continuity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	CallbackSuccess        = "success"
	CallbackFallbackCookie = "fallback_cookie"
	CallbackExchangeError  = "exchange_error"
	CallbackMissingCode    = "missing_code"

	HydrationUnauthenticated = "unauthenticated"
	HydrationTimeout         = "timeout"

	ProfileFound    = "found"
	ProfileNotFound = "not_found"
	ProfileTimeout  = "timeout"
	ProfileError    = "error"

	SubmissionSuccess  = "success"
	SubmissionInvalid  = "invalid"
	SubmissionCooldown = "cooldown"
	SubmissionError    = "error"
	SubmissionLimited  = "rate_limited"
)

// Collector records session continuity events. A nil *Collector discards
// everything.
type Collector struct {
	callback       *prometheus.CounterVec
	cookieCleanup  prometheus.Counter
	hydration      *prometheus.CounterVec
	profileLookup  *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	requestSummary *prometheus.SummaryVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praise_prison_callback_total",
			Help: "OAuth callbacks by result",
		}, []string{"result"}),
		cookieCleanup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praise_prison_session_cookie_cleanup_total",
			Help: "Auth cookies deleted after a failed session refresh",
		}),
		hydration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praise_prison_hydration_total",
			Help: "Session hydrations by outcome",
		}, []string{"outcome"}),
		profileLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praise_prison_profile_lookup_total",
			Help: "Profile lookup attempts by result",
		}, []string{"result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praise_prison_praise_submissions_total",
			Help: "Praise submissions by result",
		}, []string{"result"}),
		requestSummary: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		}, []string{"host", "method", "path", "status"}),
	}

	reg.MustRegister(
		c.callback,
		c.cookieCleanup,
		c.hydration,
		c.profileLookup,
		c.submissions,
		c.requestSummary,
	)

	return c
}

func (c *Collector) RecordCallback(result string) {
	if c == nil {
		return
	}
	c.callback.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCookieCleanup(count int) {
	if c == nil {
		return
	}
	c.cookieCleanup.Add(float64(count))
}

func (c *Collector) RecordHydration(outcome string) {
	if c == nil {
		return
	}
	c.hydration.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordProfileLookup(result string) {
	if c == nil {
		return
	}
	c.profileLookup.WithLabelValues(result).Inc()
}

func (c *Collector) RecordSubmission(result string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveRequest(host, method, path, status string, seconds float64) {
	if c == nil {
		return
	}
	c.requestSummary.WithLabelValues(host, method, path, status).Observe(seconds)
}
