// Package metrics exposes build and reload counters for the dev session.
// They are served by the asset server's /metrics route and are purely
// observational.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is the prometheus namespace for all suddenly metrics.
const Namespace = "suddenly"

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds the collectors the session records into.
type Metrics struct {
	// CompileTotal counts server compile runs by result.
	CompileTotal *prometheus.CounterVec

	// CompileDuration observes server compile durations.
	CompileDuration prometheus.Histogram

	// BundleTotal counts client bundle passes by result.
	BundleTotal *prometheus.CounterVec

	// BundleDuration observes client bundle durations.
	BundleDuration prometheus.Histogram

	// ReloadTotal counts hot-reload cycles by result.
	ReloadTotal *prometheus.CounterVec

	// ProblemsResolved counts problem-resolved notices.
	ProblemsResolved prometheus.Counter
}

// New registers the collectors with the given registerer. Pass
// prometheus.DefaultRegisterer for the session; tests pass a fresh
// registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CompileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compile_total",
			Help:      "Server compile runs by result.",
		}, []string{"result"}),
		CompileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "compile_duration_seconds",
			Help:      "Server compile duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		BundleTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bundle_total",
			Help:      "Client bundle passes by result.",
		}, []string{"result"}),
		BundleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "bundle_duration_seconds",
			Help:      "Client bundle duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReloadTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reload_cycles_total",
			Help:      "Hot-reload cycles by result.",
		}, []string{"result"}),
		ProblemsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "problems_resolved_total",
			Help:      "Problem-resolved notices emitted.",
		}),
	}
}

// ObserveResult is the label value for an error-or-nil outcome.
func ObserveResult(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}
