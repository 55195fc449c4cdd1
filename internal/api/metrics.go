// SPDX-License-Identifier: MIT

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "umlgrade_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "umlgrade_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})

	tasksSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umlgrade_tasks_submitted_total",
		Help: "Number of tasks accepted for processing",
	}, []string{"type"})

	fileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umlgrade_file_requests_denied_total",
		Help: "Number of result file requests denied",
	}, []string{"reason"})

	fileRequestsAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umlgrade_file_requests_allowed_total",
		Help: "Number of result file requests served",
	})
)

func recordFileRequestDenied(reason string) {
	fileRequestsDeniedTotal.WithLabelValues(reason).Inc()
}

func recordFileRequestAllowed() {
	fileRequestsAllowedTotal.Inc()
}
