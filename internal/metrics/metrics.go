package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "unitmon",
			Name:      "cycles_total",
			Help:      "Number of completed monitoring cycles.",
		},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "unitmon",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full monitoring cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitmon",
			Subsystem: "service",
			Name:      "checks_total",
			Help:      "Number of service checks by outcome (up, down, error, skipped).",
		}, []string{"unit", "result"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "unitmon",
			Subsystem: "service",
			Name:      "up",
			Help:      "Last observed service status (1 = active).",
		}, []string{"unit"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "unitmon",
			Subsystem: "service",
			Name:      "consecutive_failures",
			Help:      "Current consecutive failure count per service.",
		}, []string{"unit"},
	)
	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitmon",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of recovery actions by outcome (succeeded, failed).",
		}, []string{"unit", "result"},
	)
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitmon",
			Subsystem: "alert",
			Name:      "dispatches_total",
			Help:      "Number of alert dispatch attempts by outcome (sent, failed).",
		}, []string{"unit", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{cyclesTotal, cycleDuration, checksTotal, serviceUp, consecutiveFailures, restartsTotal, alertsTotal}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered is fine (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires it to a server.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by the monitor. They no-op until Register has
// been called.

func IncCycle() {
	if regOK.Load() {
		cyclesTotal.Inc()
	}
}

func ObserveCycleDuration(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}

func IncCheck(unit, result string) {
	if regOK.Load() {
		checksTotal.WithLabelValues(unit, result).Inc()
	}
}

func SetServiceUp(unit string, up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		serviceUp.WithLabelValues(unit).Set(v)
	}
}

func SetConsecutiveFailures(unit string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(unit).Set(float64(n))
	}
}

func IncRestart(unit, result string) {
	if regOK.Load() {
		restartsTotal.WithLabelValues(unit, result).Inc()
	}
}

func IncAlert(unit, result string) {
	if regOK.Load() {
		alertsTotal.WithLabelValues(unit, result).Inc()
	}
}
