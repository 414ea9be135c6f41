package attribution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Reproducible(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		ratio float64
		seed  uint64
		train int
	}{
		{name: "typical", n: 100, ratio: 0.8, seed: 42, train: 80},
		{name: "rounding", n: 7, ratio: 0.8, seed: 1, train: 6},
		{name: "keeps_one_test_row", n: 5, ratio: 1.0, seed: 9, train: 4},
		{name: "keeps_one_train_row", n: 5, ratio: 0.0, seed: 9, train: 1},
		{name: "single_row", n: 1, ratio: 0.8, seed: 3, train: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := Split(tt.n, tt.ratio, tt.seed)
			second := Split(tt.n, tt.ratio, tt.seed)

			assert.Equal(t, first, second)
			assert.Len(t, first.Train, tt.train)
			assert.Len(t, first.Test, tt.n-tt.train)

			seen := make(map[int]bool, tt.n)
			for _, i := range append(append([]int(nil), first.Train...), first.Test...) {
				assert.False(t, seen[i], "row %d assigned twice", i)
				seen[i] = true
			}
			assert.Len(t, seen, tt.n)
		})
	}
}

func TestSplit_SeedChangesPartition(t *testing.T) {
	a := Split(200, 0.8, 1)
	b := Split(200, 0.8, 2)
	assert.NotEqual(t, a.Test, b.Test)
}

func TestComparator_ScoresSyntheticData(t *testing.T) {
	ds := syntheticDataset(1000, 5)
	cfg := DefaultComparatorConfig()
	cfg.LassoAlpha = 1e-6

	result := NewComparator(cfg).Compare(context.Background(), ds.FactorRows(), ds.Returns)

	assert.Equal(t, 800, result.TrainRows)
	assert.Equal(t, 200, result.TestRows)
	require.True(t, result.Ridge.Available, result.Ridge.Warning)
	require.True(t, result.Lasso.Available, result.Lasso.Warning)
	assert.LessOrEqual(t, result.Ridge.R2, 1.0)
	assert.Greater(t, result.Lasso.R2, 0.8)
}

func TestComparator_SameSeedSameScores(t *testing.T) {
	ds := syntheticDataset(400, 17)
	c := NewComparator(DefaultComparatorConfig())

	first := c.Compare(context.Background(), ds.FactorRows(), ds.Returns)
	second := c.Compare(context.Background(), ds.FactorRows(), ds.Returns)

	assert.Equal(t, first, second)
}

func TestComparator_RidgeShrinksTowardMean(t *testing.T) {
	ds := syntheticDataset(500, 8)
	cfg := DefaultComparatorConfig()
	cfg.RidgeAlpha = 1e9

	result := NewComparator(cfg).Compare(context.Background(), ds.FactorRows(), ds.Returns)

	// With a huge penalty the ridge prediction collapses to the training mean
	require.True(t, result.Ridge.Available)
	assert.InDelta(t, 0.0, result.Ridge.R2, 0.05)
}

func TestComparator_DegenerateTestPartition(t *testing.T) {
	n := 20
	factors := make([][]float64, n)
	response := make([]float64, n)
	for i := range factors {
		factors[i] = []float64{float64(i) * 0.01}
		response[i] = 0
	}

	result := NewComparator(DefaultComparatorConfig()).Compare(context.Background(), factors, response)

	for _, s := range []Score{result.Ridge, result.Lasso} {
		assert.False(t, s.Available)
		require.NotNil(t, s.Err)
		assert.Contains(t, s.Err.Reason, "zero variance")
	}
}

func TestComparator_LassoNonConvergenceIsWarning(t *testing.T) {
	ds := syntheticDataset(300, 2)
	cfg := DefaultComparatorConfig()
	cfg.LassoAlpha = 1e-9
	cfg.MaxIter = 1
	cfg.Tolerance = 1e-15

	result := NewComparator(cfg).Compare(context.Background(), ds.FactorRows(), ds.Returns)

	assert.True(t, result.Ridge.Available)
	assert.False(t, result.Lasso.Available)
	assert.Contains(t, result.Lasso.Warning, "did not converge")
}

func TestComparator_CancelledContext(t *testing.T) {
	ds := syntheticDataset(300, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewComparator(DefaultComparatorConfig()).Compare(ctx, ds.FactorRows(), ds.Returns)

	assert.True(t, result.Ridge.Available)
	assert.False(t, result.Lasso.Available)
	assert.Contains(t, result.Lasso.Warning, "cancelled")
}

func TestComparator_MismatchedInputs(t *testing.T) {
	result := NewComparator(DefaultComparatorConfig()).Compare(context.Background(), [][]float64{{1}}, []float64{1, 2})
	assert.False(t, result.Ridge.Available)
	assert.False(t, result.Lasso.Available)
}

func TestSoftThreshold(t *testing.T) {
	assert.Equal(t, 0.5, softThreshold(1.5, 1))
	assert.Equal(t, -0.5, softThreshold(-1.5, 1))
	assert.Equal(t, 0.0, softThreshold(0.7, 1))
}
