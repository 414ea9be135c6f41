package attribution

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Comparator model names
const (
	ModelRidge = "ridge"
	ModelLasso = "lasso"
)

// ComparatorConfig holds the fixed hyperparameters of the out-of-sample comparison
type ComparatorConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	SplitRatio float64 `yaml:"split_ratio" json:"split_ratio"` // fraction of rows used for training
	Seed       uint64  `yaml:"seed" json:"seed"`
	RidgeAlpha float64 `yaml:"ridge_alpha" json:"ridge_alpha"`
	LassoAlpha float64 `yaml:"lasso_alpha" json:"lasso_alpha"`
	MaxIter    int     `yaml:"max_iter" json:"max_iter"`   // lasso coordinate-descent sweeps
	Tolerance  float64 `yaml:"tolerance" json:"tolerance"` // lasso convergence on max |Δβ| / max |β|
}

// DefaultComparatorConfig returns the production comparator settings
func DefaultComparatorConfig() ComparatorConfig {
	return ComparatorConfig{
		Enabled:    true,
		SplitRatio: 0.8,
		Seed:       42,
		RidgeAlpha: 1.0,
		LassoAlpha: 0.001,
		MaxIter:    10000,
		Tolerance:  1e-6,
	}
}

// Score is one penalized model's out-of-sample fit. When Available is false
// R2 is meaningless and Warning says why.
type Score struct {
	Model     string                `json:"model"`
	R2        float64               `json:"r2"`
	Available bool                  `json:"available"`
	Warning   string                `json:"warning,omitempty"`
	Err       *ComparatorFitWarning `json:"-"`
}

// Comparison is the out-of-sample result attached to the summary
type Comparison struct {
	Ridge     Score `json:"ridge"`
	Lasso     Score `json:"lasso"`
	TrainRows int   `json:"train_rows"`
	TestRows  int   `json:"test_rows"`
}

// Comparator fits ridge and lasso on a seeded train split and scores them on the held-out rows
type Comparator struct {
	config ComparatorConfig
}

// NewComparator creates a comparator
func NewComparator(config ComparatorConfig) *Comparator {
	return &Comparator{config: config}
}

// Compare never fails: every problem becomes an unavailable score
func (c *Comparator) Compare(ctx context.Context, factors [][]float64, response []float64) Comparison {
	if len(factors) != len(response) {
		reason := fmt.Sprintf("%d factor rows for %d responses", len(factors), len(response))
		return Comparison{
			Ridge: unavailable(ModelRidge, reason),
			Lasso: unavailable(ModelLasso, reason),
		}
	}

	if len(factors) == 0 || len(factors[0]) == 0 {
		return Comparison{
			Ridge: unavailable(ModelRidge, "no factor columns"),
			Lasso: unavailable(ModelLasso, "no factor columns"),
		}
	}

	part := Split(len(response), c.config.SplitRatio, c.config.Seed)
	result := Comparison{TrainRows: len(part.Train), TestRows: len(part.Test)}

	trainX, trainY := subset(factors, response, part.Train)
	testX, testY := subset(factors, response, part.Test)

	if reason := degenerateTest(testY); reason != "" {
		result.Ridge = unavailable(ModelRidge, reason)
		result.Lasso = unavailable(ModelLasso, reason)
		logWarnings(result)
		return result
	}
	if len(trainY) < 2 {
		reason := fmt.Sprintf("training partition has %d rows", len(trainY))
		result.Ridge = unavailable(ModelRidge, reason)
		result.Lasso = unavailable(ModelLasso, reason)
		logWarnings(result)
		return result
	}

	centred := centre(trainX, trainY)

	if coef, intercept, err := c.fitRidge(centred); err != nil {
		result.Ridge = unavailable(ModelRidge, err.Error())
	} else {
		result.Ridge = Score{Model: ModelRidge, R2: outOfSampleR2(testX, testY, coef, intercept), Available: true}
	}

	if coef, intercept, err := c.fitLasso(ctx, centred); err != nil {
		result.Lasso = unavailable(ModelLasso, err.Error())
	} else {
		result.Lasso = Score{Model: ModelLasso, R2: outOfSampleR2(testX, testY, coef, intercept), Available: true}
	}

	logWarnings(result)
	return result
}

// centredData is the training design with column means removed
type centredData struct {
	x     *mat.Dense
	y     []float64
	xMean []float64
	yMean float64
}

func centre(x [][]float64, y []float64) centredData {
	n, p := len(x), len(x[0])
	d := centredData{
		x:     mat.NewDense(n, p, nil),
		y:     make([]float64, n),
		xMean: make([]float64, p),
		yMean: stat.Mean(y, nil),
	}
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		d.xMean[j] = stat.Mean(col, nil)
		for i := range x {
			d.x.Set(i, j, x[i][j]-d.xMean[j])
		}
	}
	for i, v := range y {
		d.y[i] = v - d.yMean
	}
	return d
}

func (d centredData) intercept(coef []float64) float64 {
	return d.yMean - floats.Dot(d.xMean, coef)
}

// fitRidge solves (XcᵀXc + αI)β = Xcᵀyc by Cholesky
func (c *Comparator) fitRidge(d centredData) ([]float64, float64, error) {
	_, p := d.x.Dims()

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, d.x.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+c.config.RidgeAlpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(d.x.T(), mat.NewVecDense(len(d.y), d.y))

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, 0, fmt.Errorf("penalized normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, 0, fmt.Errorf("ridge solve: %w", err)
	}

	coef := append([]float64(nil), beta.RawVector().Data...)
	return coef, d.intercept(coef), nil
}

// fitLasso minimises (1/2n)‖yc − Xcβ‖² + α‖β‖₁ by cyclic coordinate descent
func (c *Comparator) fitLasso(ctx context.Context, d centredData) ([]float64, float64, error) {
	n, p := d.x.Dims()
	cols := make([][]float64, p)
	norms := make([]float64, p)
	for j := 0; j < p; j++ {
		cols[j] = mat.Col(nil, j, d.x)
		norms[j] = floats.Dot(cols[j], cols[j])
	}

	beta := make([]float64, p)
	residual := append([]float64(nil), d.y...)
	threshold := float64(n) * c.config.LassoAlpha

	for iter := 0; iter < c.config.MaxIter; iter++ {
		if iter%100 == 0 {
			select {
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("cancelled after %d sweeps: %w", iter, ctx.Err())
			default:
			}
		}

		maxDelta, maxBeta := 0.0, 0.0
		for j := 0; j < p; j++ {
			if norms[j] == 0 {
				continue
			}
			old := beta[j]
			rho := floats.Dot(cols[j], residual) + old*norms[j]
			beta[j] = softThreshold(rho, threshold) / norms[j]
			if delta := beta[j] - old; delta != 0 {
				floats.AddScaled(residual, -delta, cols[j])
				maxDelta = math.Max(maxDelta, math.Abs(delta))
			}
			maxBeta = math.Max(maxBeta, math.Abs(beta[j]))
		}

		if maxBeta == 0 || maxDelta <= c.config.Tolerance*maxBeta {
			return beta, d.intercept(beta), nil
		}
	}

	return nil, 0, fmt.Errorf("did not converge in %d sweeps", c.config.MaxIter)
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

// outOfSampleR2 is 1 − SSR/SST on the test rows
func outOfSampleR2(x [][]float64, y []float64, coef []float64, intercept float64) float64 {
	mean := stat.Mean(y, nil)
	var ssr, sst float64
	for i, row := range x {
		pred := intercept + floats.Dot(row, coef)
		ssr += (y[i] - pred) * (y[i] - pred)
		sst += (y[i] - mean) * (y[i] - mean)
	}
	return 1 - ssr/sst
}

func degenerateTest(y []float64) string {
	if len(y) == 0 {
		return "test partition is empty"
	}
	if len(y) < 2 || stat.Variance(y, nil) == 0 {
		return "test partition response has zero variance"
	}
	return ""
}

func subset(x [][]float64, y []float64, rows []int) ([][]float64, []float64) {
	outX := make([][]float64, len(rows))
	outY := make([]float64, len(rows))
	for i, r := range rows {
		outX[i] = append([]float64(nil), x[r]...)
		outY[i] = y[r]
	}
	return outX, outY
}

func unavailable(model, reason string) Score {
	w := &ComparatorFitWarning{Model: model, Reason: reason}
	return Score{Model: model, Warning: w.Error(), Err: w}
}

func logWarnings(c Comparison) {
	for _, s := range []Score{c.Ridge, c.Lasso} {
		if !s.Available {
			log.Warn().Str("model", s.Model).Str("reason", s.Err.Reason).Msg("Comparator score unavailable")
		}
	}
}
