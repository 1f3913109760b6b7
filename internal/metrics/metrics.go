// Package metrics exposes the Prometheus instrumentation for the callback flow.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	callbackOutcomes *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	tokenWriteFails  prometheus.Counter
)

// Handler registers the collectors and returns the /metrics handler.
func Handler(reg prometheus.Registerer) http.Handler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		callbackOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_callback_outcomes_total",
			Help: "Callback resolutions by provider and outcome branch or error code",
		}, []string{"provider", "outcome"})

		exchangeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oauth_provider_exchange_duration_seconds",
			Help:    "Duration of the provider code exchange + profile fetch",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"})

		tokenWriteFails = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oauth_provider_token_write_failures_total",
			Help: "Provider token persistence failures (flow still succeeds)",
		})

		reg.MustRegister(callbackOutcomes, exchangeDuration, tokenWriteFails)
	})
	return promhttp.Handler()
}

// ObserveCallback records one finished callback.
func ObserveCallback(provider, outcome string) {
	if callbackOutcomes != nil {
		callbackOutcomes.WithLabelValues(provider, outcome).Inc()
	}
}

// ObserveExchange records a provider exchange duration.
func ObserveExchange(provider string, d time.Duration) {
	if exchangeDuration != nil {
		exchangeDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// ObserveTokenWriteFailure counts a best-effort token write failure.
func ObserveTokenWriteFailure() {
	if tokenWriteFails != nil {
		tokenWriteFails.Inc()
	}
}
