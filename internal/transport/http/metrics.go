package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	validationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authia_validation_requests_total",
		Help: "License validation requests by outcome.",
	}, []string{"outcome"})

	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authia_login_attempts_total",
		Help: "Operator login attempts by outcome.",
	}, []string{"outcome"})

	rateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authia_rate_limit_hits_total",
		Help: "Requests denied by a fixed-window rate limit, by action.",
	}, []string{"action"})
)

// MetricsHandler exposes the prometheus scrape endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
