// Package metrics exposes Prometheus instrumentation for attribution runs
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/attribution"
)

// Run outcomes used as the "outcome" label
const (
	OutcomeSuccess  = "success"
	OutcomeShape    = "shape_mismatch"
	OutcomeSingular = "singular"
	OutcomeError    = "error"
)

// Registry holds all factorrun metrics on its own prometheus.Registry
type Registry struct {
	registry *prometheus.Registry

	StageDuration    *prometheus.HistogramVec
	StageErrors      *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	RSquared         prometheus.Gauge
	ComparatorR2     *prometheus.GaugeVec
	MeanContribution *prometheus.GaugeVec
	CacheLookups     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// NewRegistry creates and registers every metric
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "factorrun_stage_duration_seconds",
				Help:    "Duration of each attribution stage in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage"},
		),

		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factorrun_stage_errors_total",
				Help: "Attribution stages that returned an error",
			},
			[]string{"stage"},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factorrun_runs_total",
				Help: "Attribution runs by outcome",
			},
			[]string{"outcome"},
		),

		RSquared: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "factorrun_r_squared",
				Help: "In-sample R² of the most recent successful fit",
			},
		),

		ComparatorR2: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "factorrun_comparator_r_squared",
				Help: "Out-of-sample R² of the most recent comparator run, by model",
			},
			[]string{"model"},
		),

		MeanContribution: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "factorrun_mean_contribution",
				Help: "Signed mean daily contribution of each ranked factor in the most recent run",
			},
			[]string{"factor"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factorrun_cache_lookups_total",
				Help: "Result cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factorrun_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	r.registry.MustRegister(
		r.StageDuration,
		r.StageErrors,
		r.Runs,
		r.RSquared,
		r.ComparatorR2,
		r.MeanContribution,
		r.CacheLookups,
		r.HTTPRequests,
	)

	return r
}

// ObserveStage implements attribution.Observer
func (r *Registry) ObserveStage(stage string, elapsed time.Duration, err error) {
	r.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		r.StageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveRun implements attribution.Observer
func (r *Registry) ObserveRun(res *attribution.Result, err error) {
	outcome := Outcome(err)
	r.Runs.WithLabelValues(outcome).Inc()
	if err != nil {
		return
	}

	r.RSquared.Set(res.Model.Diagnostics().RSquared)

	r.MeanContribution.Reset()
	for _, fa := range res.Summary.Ranked {
		r.MeanContribution.WithLabelValues(fa.Factor).Set(fa.MeanContribution)
	}

	if c := res.Summary.Comparison; c != nil {
		for _, s := range []attribution.Score{c.Ridge, c.Lasso} {
			if s.Available {
				r.ComparatorR2.WithLabelValues(s.Model).Set(s.R2)
			} else {
				r.ComparatorR2.DeleteLabelValues(s.Model)
			}
		}
	}

	log.Debug().Str("run_id", res.RunID).Str("outcome", outcome).Msg("Run metrics recorded")
}

// RecordCacheLookup counts a result cache hit or miss
func (r *Registry) RecordCacheLookup(hit bool) {
	if hit {
		r.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.CacheLookups.WithLabelValues("miss").Inc()
}

// RecordRequest counts one HTTP response
func (r *Registry) RecordRequest(route string, code int) {
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// GaugeValue reads back a gauge, e.g. for console output
func GaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// CounterValue reads back a counter
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Outcome maps a run error to its outcome label
func Outcome(err error) string {
	var shapeErr *attribution.ShapeMismatchError
	var singular *attribution.SingularMatrixError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &shapeErr):
		return OutcomeShape
	case errors.As(err, &singular):
		return OutcomeSingular
	default:
		return OutcomeError
	}
}
