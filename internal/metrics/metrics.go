// Package metrics holds the Prometheus collectors of the power analysis engine
// and the job server. All collectors register with the default registry, which
// cmd/server exposes at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// estimatesTotal counts power estimates by outcome
	estimatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipower_estimates_total",
		Help: "Total Monte Carlo power estimates by result",
	}, []string{"result"})

	// simulatedTrialsTotal counts multinomial samples drawn
	simulatedTrialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chipower_simulated_trials_total",
		Help: "Total simulated multinomial samples",
	})

	// estimateDuration tracks the latency of one power estimate
	estimateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chipower_estimate_duration_seconds",
		Help:    "Power estimate duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	})

	// searchRunsTotal counts finished searches by terminal status
	searchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipower_search_runs_total",
		Help: "Total sample size searches by terminal status",
	}, []string{"status"})

	// searchIterations tracks how many estimates a search needed
	searchIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chipower_search_iterations",
		Help:    "Number of power estimates per sample size search",
		Buckets: []float64{5, 10, 20, 40, 80, 160, 320, 640, 1280},
	})

	// activeJobs tracks search jobs currently holding a slot
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chipower_active_search_jobs",
		Help: "Search jobs currently running",
	})
)

// ObserveEstimate records one estimate. err is the estimate's error, if any.
func ObserveEstimate(trials int, elapsed time.Duration, err error) {
	if err != nil {
		estimatesTotal.WithLabelValues("error").Inc()
		return
	}
	estimatesTotal.WithLabelValues("ok").Inc()
	simulatedTrialsTotal.Add(float64(trials))
	estimateDuration.Observe(elapsed.Seconds())
}

// ObserveSearch records a finished search with its terminal status.
func ObserveSearch(status string, iterations int) {
	searchRunsTotal.WithLabelValues(status).Inc()
	searchIterations.Observe(float64(iterations))
}

// JobStarted and JobFinished bracket a running search job.
func JobStarted() { activeJobs.Inc() }

func JobFinished() { activeJobs.Dec() }
