// Package metrics provides Prometheus instrumentation for simulations and
// optimizations. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portfolio_lab"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder holds the collectors.
type Recorder struct {
	simulations        *prometheus.CounterVec
	simulationDuration prometheus.Histogram
	trajectories       prometheus.Counter
	collapsedPaths     prometheus.Counter

	optimizations        *prometheus.CounterVec
	optimizationDuration prometheus.Histogram
	optimizerIterations  prometheus.Histogram

	httpRequests *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		simulations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Simulation runs by outcome.",
		}, []string{"outcome"}),
		simulationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      "Wall time of sampling plus path simulation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		trajectories: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trajectories_total",
			Help:      "Simulated trajectories across all runs.",
		}),
		collapsedPaths: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collapsed_paths_total",
			Help:      "Paths absorbed at zero value.",
		}),
		optimizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizations_total",
			Help:      "Sharpe optimizations by outcome.",
		}, []string{"outcome"}),
		optimizationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_duration_seconds",
			Help:      "Wall time of Sharpe optimizations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		optimizerIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimizer_iterations",
			Help:      "Major iterations used by successful optimizations.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// ObserveSimulation records one pipeline run.
func (r *Recorder) ObserveSimulation(d time.Duration, trajectories, collapsed int, err error) {
	if r == nil {
		return
	}
	r.simulations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return
	}
	r.simulationDuration.Observe(d.Seconds())
	r.trajectories.Add(float64(trajectories))
	r.collapsedPaths.Add(float64(collapsed))
}

// ObserveOptimization records one optimizer call.
func (r *Recorder) ObserveOptimization(d time.Duration, iterations int, err error) {
	if r == nil {
		return
	}
	r.optimizations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return
	}
	r.optimizationDuration.Observe(d.Seconds())
	r.optimizerIterations.Observe(float64(iterations))
}

// ObserveRequest records one API request.
func (r *Recorder) ObserveRequest(route, code string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, code).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
