package attribution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	stages map[string]int
	failed []string
	runs   int
	runErr error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{stages: make(map[string]int)}
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[stage]++
	if err != nil {
		o.failed = append(o.failed, stage)
	}
}

func (o *recordingObserver) ObserveRun(_ *Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	o.runErr = err
}

func (o *recordingObserver) count(stage string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stages[stage]
}

func TestEngine_RunEndToEnd(t *testing.T) {
	ds := syntheticDataset(500, 13)
	obs := newRecordingObserver()
	opts := DefaultOptions()
	opts.Factors = []string{"VIX", "FX", "Oil", "CPI"}

	res, err := NewEngine(opts, obs).Run(context.Background(), ds)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, ds.Fingerprint(), res.Fingerprint)
	assert.Equal(t, []string{"const", "CPI", "Oil", "FX", "VIX"}, res.Model.Columns())
	assert.Len(t, res.Contributions.Rows, 500)
	assert.Len(t, res.Summary.Ranked, 3)

	require.NotNil(t, res.Summary.Comparison)
	assert.True(t, res.Summary.Comparison.Ridge.Available)
	assert.Equal(t, 400, res.Summary.Comparison.TrainRows)

	for _, stage := range []string{StageValidate, StageDesign, StageFit, StageDecompose, StageCompare, StageSummarize} {
		assert.Equal(t, 1, obs.count(stage), stage)
	}
	assert.Empty(t, obs.failed)
	assert.Equal(t, 1, obs.runs)
	assert.NoError(t, obs.runErr)
}

func TestEngine_ComparatorDisabled(t *testing.T) {
	ds := scenarioDataset()
	obs := newRecordingObserver()
	opts := DefaultOptions()
	opts.Comparator.Enabled = false

	res, err := NewEngine(opts, obs).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Nil(t, res.Summary.Comparison)
	assert.Equal(t, 0, obs.count(StageCompare))
	assert.InDelta(t, mean(ds.Returns), res.Summary.TotalExplained, 1e-12)
	assert.Equal(t, "Overall, the model explains an average of 0.00250 of daily index returns.",
		res.Summary.Lines[len(res.Summary.Lines)-1])
}

func TestEngine_ShapeMismatchStopsBeforeFit(t *testing.T) {
	ds := scenarioDataset()
	obs := newRecordingObserver()
	opts := DefaultOptions()
	opts.Factors = []string{"F", "Oil"}

	res, err := NewEngine(opts, obs).Run(context.Background(), ds)
	assert.Nil(t, res)

	var shapeErr *ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, []string{"Oil"}, shapeErr.Missing)
	assert.Equal(t, 0, obs.count(StageFit))
	assert.Equal(t, []string{StageValidate}, obs.failed)
	assert.Equal(t, err, obs.runErr)
}

func TestEngine_SingularPropagates(t *testing.T) {
	ds := scenarioDataset()
	ds.Factors = []string{"F", "G"}
	for i := range ds.Values {
		ds.Values[i] = []float64{ds.Values[i][0], 2 * ds.Values[i][0]}
	}

	res, err := NewEngine(DefaultOptions(), nil).Run(context.Background(), ds)
	assert.Nil(t, res)

	var singular *SingularMatrixError
	require.True(t, errors.As(err, &singular))
	assert.Equal(t, "G", singular.Column)
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.Comparator.Enabled = false
	res, err := NewEngine(opts, nil).Run(ctx, scenarioDataset())

	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_RunsAreIndependent(t *testing.T) {
	e := NewEngine(DefaultOptions(), nil)
	ds := syntheticDataset(200, 4)

	first, err := e.Run(context.Background(), ds)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), ds)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Model.Values(), second.Model.Values())
	assert.Equal(t, first.Summary.Lines, second.Summary.Lines)
}

func TestEngine_ConfigKey(t *testing.T) {
	base := DefaultOptions()
	assert.Equal(t, NewEngine(base, nil).ConfigKey(), NewEngine(DefaultOptions(), nil).ConfigKey())

	timed := DefaultOptions()
	timed.MaxDuration = time.Minute
	assert.Equal(t, NewEngine(base, nil).ConfigKey(), NewEngine(timed, nil).ConfigKey())

	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"top_k", func(o *Options) { o.Summarizer.TopK = 1 }},
		{"factors", func(o *Options) { o.Factors = []string{"Oil"} }},
		{"interpretations", func(o *Options) { o.Summarizer.Interpretations = map[string]string{"Oil": "Energy."} }},
		{"comparator", func(o *Options) { o.Comparator.Seed = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			assert.NotEqual(t, NewEngine(base, nil).ConfigKey(), NewEngine(opts, nil).ConfigKey())
		})
	}
}

func mean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
