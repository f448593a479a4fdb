// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the gateway metrics. One instance is registered per
// process.
type Collector struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them on reg. A nil
// registerer means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_provider_attempts_total",
			Help: "Provider attempts by provider, model and outcome class.",
		}, []string{"provider", "model", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptgate_provider_attempt_duration_seconds",
			Help:    "Provider attempt latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_tokens_total",
			Help: "Token usage by provider, model and direction.",
		}, []string{"provider", "model", "direction"}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_fallbacks_total",
			Help: "Fallback target activations by catching class.",
		}, []string{"class"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_http_requests_total",
			Help: "Inbound HTTP requests by path and status.",
		}, []string{"path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptgate_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
	reg.MustRegister(
		c.attemptsTotal, c.attemptDuration, c.tokensTotal,
		c.fallbacksTotal, c.httpRequests, c.httpDuration,
	)
	return c
}

// ObserveAttempt records one provider attempt.
func (c *Collector) ObserveAttempt(provider, model, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.attemptsTotal.WithLabelValues(provider, model, outcome).Inc()
	c.attemptDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// ObserveTokens records token usage for one successful attempt.
func (c *Collector) ObserveTokens(provider, model string, prompt, completion int) {
	if c == nil {
		return
	}
	c.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	c.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completion))
}

// ObserveFallback records one fallback activation.
func (c *Collector) ObserveFallback(class string) {
	if c == nil {
		return
	}
	c.fallbacksTotal.WithLabelValues(class).Inc()
}

// ObserveHTTP records one inbound request.
func (c *Collector) ObserveHTTP(path, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(path, status).Inc()
	c.httpDuration.WithLabelValues(path).Observe(d.Seconds())
}
