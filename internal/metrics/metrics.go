// Package metrics exposes Prometheus instrumentation for expression parsing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeParseError = "parse_error"
	OutcomeError      = "error"
)

var (
	registerOnce sync.Once

	parseRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exprbridge",
			Subsystem: "parse",
			Name:      "requests_total",
			Help:      "Total parse requests by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)
	parseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exprbridge",
			Subsystem: "parse",
			Name:      "duration_seconds",
			Help:      "Parse request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"engine"},
	)
)

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(parseRequests, parseDuration)
	})
}

// RecordParse counts one parse request and observes its duration.
func RecordParse(engine, outcome string, duration time.Duration) {
	Register()
	parseRequests.WithLabelValues(engine, outcome).Inc()
	parseDuration.WithLabelValues(engine).Observe(duration.Seconds())
}
