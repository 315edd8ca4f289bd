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

	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilr",
			Subsystem: "launch",
			Name:      "total",
			Help:      "Number of finished launch tasks by terminal status.",
		}, []string{"status"},
	)
	launchRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "profilr",
			Subsystem: "launch",
			Name:      "rejected_total",
			Help:      "Number of launch requests rejected because the profile was already active.",
		},
	)
	launchesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "profilr",
			Subsystem: "launch",
			Name:      "active",
			Help:      "Launch tasks currently holding an admission slot.",
		},
	)
	launchesWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "profilr",
			Subsystem: "launch",
			Name:      "waiting",
			Help:      "Launch tasks queued for an admission slot.",
		},
	)
	discoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "profilr",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Time spent polling a debug endpoint for its websocket URL.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	discoveryResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilr",
			Subsystem: "discovery",
			Name:      "results_total",
			Help:      "Discovery outcomes (found or empty).",
		}, []string{"result"},
	)
	injectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilr",
			Subsystem: "inject",
			Name:      "total",
			Help:      "Number of injection requests by outcome.",
		}, []string{"result"},
	)
	injectedPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilr",
			Subsystem: "inject",
			Name:      "pages_total",
			Help:      "Pages successfully injected, by mechanism.",
		}, []string{"mechanism"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launchesTotal, launchRejections, launchesActive, launchesWaiting, discoveryDuration, discoveryResults, injectionsTotal, injectedPages}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				_ = are // keep existing
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(status string) {
	if regOK.Load() {
		launchesTotal.WithLabelValues(status).Inc()
	}
}

func IncLaunchRejected() {
	if regOK.Load() {
		launchRejections.Inc()
	}
}

func AddLaunchActive(delta int) {
	if regOK.Load() {
		launchesActive.Add(float64(delta))
	}
}

func AddLaunchWaiting(delta int) {
	if regOK.Load() {
		launchesWaiting.Add(float64(delta))
	}
}

func ObserveDiscovery(seconds float64, found bool) {
	if regOK.Load() {
		discoveryDuration.Observe(seconds)
		result := "empty"
		if found {
			result = "found"
		}
		discoveryResults.WithLabelValues(result).Inc()
	}
}

func IncInjection(ok bool) {
	if regOK.Load() {
		result := "error"
		if ok {
			result = "ok"
		}
		injectionsTotal.WithLabelValues(result).Inc()
	}
}

func AddInjectedPages(mechanism string, n int) {
	if regOK.Load() && n > 0 {
		injectedPages.WithLabelValues(mechanism).Add(float64(n))
	}
}
