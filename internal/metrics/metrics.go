package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	contentBlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optiplay_content_blocked_total",
		Help: "Total number of submissions rejected by the content policy",
	}, []string{"reason"})
	scannerVerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optiplay_scanner_verdicts_total",
		Help: "Total number of toxicity verdicts by source",
	}, []string{"source", "flagged"})
	rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optiplay_rate_limited_total",
		Help: "Total number of requests denied by a rate limit rule",
	}, []string{"rule"})
	muteTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optiplay_mute_transitions_total",
		Help: "Total number of mute state transitions",
	}, []string{"action"})
	ipBlacklistedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optiplay_ip_blacklisted_total",
		Help: "Total number of IP addresses added to the blacklist",
	}, []string{"origin"})
)

var registry = prometheus.NewRegistry()

// Register registers Prometheus collectors. Call once at startup.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(contentBlockedTotal, scannerVerdictsTotal, rateLimitedTotal, muteTransitionsTotal, ipBlacklistedTotal)
	registry = reg
}

// Handler serves the registry passed to Register.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncContentBlocked counts a policy rejection ("language", "link", "username", "email").
func IncContentBlocked(reason string) { contentBlockedTotal.WithLabelValues(reason).Inc() }

// ObserveVerdict counts a toxicity verdict.
func ObserveVerdict(source string, flagged bool) {
	scannerVerdictsTotal.WithLabelValues(source, strconv.FormatBool(flagged)).Inc()
}

// IncRateLimited counts a denied request for the named rule.
func IncRateLimited(rule string) { rateLimitedTotal.WithLabelValues(rule).Inc() }

// IncMuteTransition counts a mute, unmute or auto_unmute.
func IncMuteTransition(action string) { muteTransitionsTotal.WithLabelValues(action).Inc() }

// IncBlacklisted counts a blacklist insert ("auto", "manual", "peer").
func IncBlacklisted(origin string) { ipBlacklistedTotal.WithLabelValues(origin).Inc() }
