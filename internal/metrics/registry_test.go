package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/factorrun/internal/attribution"
	"github.com/sawpanic/factorrun/internal/dataset"
)

func fourDayDataset() *dataset.Dataset {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	return &dataset.Dataset{
		Dates:   []time.Time{start, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2), start.AddDate(0, 0, 3)},
		Returns: []float64{0.01, -0.02, 0.015, 0.005},
		Factors: []string{"F"},
		Values:  [][]float64{{0.02}, {-0.01}, {0.03}, {0.00}},
	}
}

func TestRegistry_ObservesEngineRun(t *testing.T) {
	reg := NewRegistry()
	opts := attribution.DefaultOptions()
	opts.Comparator.Enabled = false

	res, err := attribution.NewEngine(opts, reg).Run(context.Background(), fourDayDataset())
	require.NoError(t, err)

	assert.Equal(t, 1.0, CounterValue(reg.Runs.WithLabelValues(OutcomeSuccess)))
	assert.InDelta(t, res.Model.Diagnostics().RSquared, GaugeValue(reg.RSquared), 1e-12)
	assert.InDelta(t, res.Summary.Ranked[0].MeanContribution, GaugeValue(reg.MeanContribution.WithLabelValues("F")), 1e-12)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["factorrun_stage_duration_seconds"])
	assert.True(t, names["factorrun_runs_total"])
}

func TestRegistry_FailedRunOutcome(t *testing.T) {
	reg := NewRegistry()
	opts := attribution.DefaultOptions()
	opts.Factors = []string{"F", "Oil"}

	_, err := attribution.NewEngine(opts, reg).Run(context.Background(), fourDayDataset())
	require.Error(t, err)

	assert.Equal(t, 1.0, CounterValue(reg.Runs.WithLabelValues(OutcomeShape)))
	assert.Equal(t, 1.0, CounterValue(reg.StageErrors.WithLabelValues(attribution.StageValidate)))
	assert.Equal(t, 0.0, CounterValue(reg.Runs.WithLabelValues(OutcomeSuccess)))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeShape, Outcome(&attribution.ShapeMismatchError{Reason: "x"}))
	assert.Equal(t, OutcomeSingular, Outcome(&attribution.SingularMatrixError{Column: "B"}))
	assert.Equal(t, OutcomeError, Outcome(errors.New("boom")))
}

func TestRegistry_Handler(t *testing.T) {
	reg := NewRegistry()
	reg.RecordCacheLookup(true)
	reg.RecordCacheLookup(false)
	reg.RecordRequest("/health", 200)

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `factorrun_cache_lookups_total{result="hit"} 1`))
	assert.True(t, strings.Contains(text, `factorrun_http_requests_total{code="200",route="/health"} 1`))
}
