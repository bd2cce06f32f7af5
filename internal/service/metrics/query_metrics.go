package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	QueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brentbreaks",
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "Latency of query service operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	QueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brentbreaks",
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Errors by query service operation",
		},
		[]string{"query"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brentbreaks",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(QueryLatency, QueryErrors, RateLimited)
	})
}

// ObserveQuery records the latency and outcome of one query.
func ObserveQuery(query string, start time.Time, err error) {
	QueryLatency.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		QueryErrors.WithLabelValues(query).Inc()
	}
}
