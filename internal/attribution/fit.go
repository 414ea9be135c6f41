package attribution

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FitterConfig tunes the OLS fitter
type FitterConfig struct {
	// RankTolerance is the relative size below which a diagonal entry of R
	// marks its column as linearly dependent on the preceding ones.
	RankTolerance float64 `yaml:"rank_tolerance"`
}

// DefaultFitterConfig returns the production fitter settings
func DefaultFitterConfig() FitterConfig {
	return FitterConfig{RankTolerance: 1e-10}
}

// Diagnostics are the regression statistics shown on the console
type Diagnostics struct {
	Observations   int       `json:"observations"`
	Parameters     int       `json:"parameters"`
	DFResidual     int       `json:"df_residual"`
	RSquared       float64   `json:"r_squared"`
	AdjRSquared    float64   `json:"adj_r_squared"`
	FStatistic     float64   `json:"f_statistic"`
	ResidualStdErr float64   `json:"residual_std_err"`
	SSR            float64   `json:"ssr"`
	SST            float64   `json:"sst"`
	StdErrors      []float64 `json:"std_errors"`
	TValues        []float64 `json:"t_values"`
	Aliased        []string  `json:"aliased,omitempty"` // all-zero factor columns pinned to 0
}

// FittedModel maps each design column to its OLS coefficient. It is never
// mutated after Fit returns.
type FittedModel struct {
	columns     []string
	coef        []float64
	diagnostics Diagnostics
}

// NewFittedModel wraps externally supplied coefficients, e.g. a persisted run
func NewFittedModel(columns []string, coef []float64) (*FittedModel, error) {
	if len(columns) != len(coef) {
		return nil, fmt.Errorf("%d columns for %d coefficients", len(columns), len(coef))
	}
	if len(columns) == 0 || columns[0] != ConstColumn {
		return nil, fmt.Errorf("first coefficient must be %s", ConstColumn)
	}
	return &FittedModel{
		columns: append([]string(nil), columns...),
		coef:    append([]float64(nil), coef...),
	}, nil
}

// Columns returns the coefficient names in design order
func (m *FittedModel) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Coefficient returns the coefficient for a column
func (m *FittedModel) Coefficient(name string) (float64, bool) {
	for j, c := range m.columns {
		if c == name {
			return m.coef[j], true
		}
	}
	return 0, false
}

// Values returns the coefficients in design order
func (m *FittedModel) Values() []float64 {
	return append([]float64(nil), m.coef...)
}

// Coefficients returns the name → coefficient mapping
func (m *FittedModel) Coefficients() map[string]float64 {
	out := make(map[string]float64, len(m.columns))
	for j, c := range m.columns {
		out[c] = m.coef[j]
	}
	return out
}

// Diagnostics returns a copy of the fit statistics
func (m *FittedModel) Diagnostics() Diagnostics {
	d := m.diagnostics
	d.StdErrors = append([]float64(nil), d.StdErrors...)
	d.TValues = append([]float64(nil), d.TValues...)
	d.Aliased = append([]string(nil), d.Aliased...)
	return d
}

// Predict computes X·β for a design matrix with the same columns
func (m *FittedModel) Predict(dm *DesignMatrix) ([]float64, error) {
	if err := m.checkColumns(dm); err != nil {
		return nil, err
	}
	var out mat.VecDense
	out.MulVec(dm.x, mat.NewVecDense(len(m.coef), append([]float64(nil), m.coef...)))
	return out.RawVector().Data, nil
}

func (m *FittedModel) checkColumns(dm *DesignMatrix) error {
	if len(dm.columns) != len(m.columns) {
		return &ShapeMismatchError{Reason: fmt.Sprintf(
			"model has %d coefficients, design matrix has %d columns", len(m.columns), len(dm.columns))}
	}
	for j := range m.columns {
		if m.columns[j] != dm.columns[j] {
			return &ShapeMismatchError{Reason: fmt.Sprintf(
				"column %d is %s in the model but %s in the design matrix", j, m.columns[j], dm.columns[j])}
		}
	}
	return nil
}

// MarshalJSON emits columns in design order next to the coefficient map
func (m *FittedModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Columns      []string           `json:"columns"`
		Coefficients map[string]float64 `json:"coefficients"`
		Diagnostics  Diagnostics        `json:"diagnostics"`
	}{m.columns, m.Coefficients(), m.diagnostics})
}

// Fitter solves ordinary least squares by Householder QR
type Fitter struct {
	config FitterConfig
}

// NewFitter creates a fitter
func NewFitter(config FitterConfig) *Fitter {
	if config.RankTolerance <= 0 {
		config.RankTolerance = DefaultFitterConfig().RankTolerance
	}
	return &Fitter{config: config}
}

// Fit regresses response on the design matrix with the default settings
func Fit(dm *DesignMatrix, response []float64) (*FittedModel, error) {
	return NewFitter(DefaultFitterConfig()).Fit(dm, response)
}

// Fit chooses the coefficients minimising the sum of squared residuals
func (f *Fitter) Fit(dm *DesignMatrix, response []float64) (*FittedModel, error) {
	n, k := dm.Rows(), dm.Cols()
	if len(response) != n {
		return nil, &ShapeMismatchError{Reason: fmt.Sprintf("response has %d rows, design matrix has %d", len(response), n)}
	}
	if k == 0 || dm.columns[0] != ConstColumn {
		return nil, &ShapeMismatchError{Reason: "design matrix has no constant column", Missing: []string{ConstColumn}}
	}
	if k == 1 {
		return nil, &ShapeMismatchError{Reason: "design matrix has no factor columns"}
	}

	// An identically zero factor cannot move the prediction; it is pinned to 0
	// and the remaining system must still have full rank.
	active := []int{0}
	var aliased []string
	for j := 1; j < k; j++ {
		if isZeroColumn(dm.x, j) {
			aliased = append(aliased, dm.columns[j])
			continue
		}
		active = append(active, j)
	}
	if len(active) == 1 {
		return nil, &SingularMatrixError{Column: aliased[0], Reason: "no factor column carries any variation"}
	}

	p := len(active)
	if n < p {
		return nil, &SingularMatrixError{Reason: fmt.Sprintf("%d observations for %d parameters", n, p)}
	}

	x := mat.NewDense(n, p, nil)
	for c, j := range active {
		x.SetCol(c, mat.Col(nil, j, dm.x))
	}

	var qr mat.QR
	qr.Factorize(x)

	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for j := 0; j < p; j++ {
		maxDiag = math.Max(maxDiag, math.Abs(r.At(j, j)))
	}
	for j := 0; j < p; j++ {
		if math.Abs(r.At(j, j)) <= f.config.RankTolerance*maxDiag {
			return nil, &SingularMatrixError{
				Column: dm.columns[active[j]],
				Reason: "column is a linear combination of the preceding columns",
			}
		}
	}

	y := mat.NewVecDense(n, append([]float64(nil), response...))
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		return nil, &SingularMatrixError{Reason: err.Error()}
	}

	coef := make([]float64, k)
	for c, j := range active {
		coef[j] = beta.AtVec(c)
	}

	model := &FittedModel{
		columns: append([]string(nil), dm.columns...),
		coef:    coef,
	}
	model.diagnostics = diagnose(x, r.Slice(0, p, 0, p), &beta, response, active, k)
	model.diagnostics.Aliased = aliased

	return model, nil
}

// diagnose computes fit quality and coefficient standard errors. Undefined
// ratios (zero degrees of freedom, zero variance) are reported as 0.
func diagnose(x *mat.Dense, rTop mat.Matrix, beta *mat.VecDense, response []float64, active []int, k int) Diagnostics {
	n, p := x.Dims()

	var fitted mat.VecDense
	fitted.MulVec(x, beta)
	residuals := make([]float64, n)
	floats.SubTo(residuals, response, fitted.RawVector().Data)

	ssr := floats.Dot(residuals, residuals)
	mean := floats.Sum(response) / float64(n)
	sst := 0.0
	for _, v := range response {
		sst += (v - mean) * (v - mean)
	}

	d := Diagnostics{
		Observations: n,
		Parameters:   p,
		DFResidual:   n - p,
		SSR:          ssr,
		SST:          sst,
		StdErrors:    make([]float64, k),
		TValues:      make([]float64, k),
	}
	if sst > 0 {
		d.RSquared = 1 - ssr/sst
	}
	if d.DFResidual > 0 {
		sigma2 := ssr / float64(d.DFResidual)
		d.ResidualStdErr = math.Sqrt(sigma2)
		if sst > 0 {
			d.AdjRSquared = 1 - (1-d.RSquared)*float64(n-1)/float64(d.DFResidual)
		}
		if p > 1 && ssr > 0 {
			d.FStatistic = ((sst - ssr) / float64(p-1)) / sigma2
		}

		// (XᵀX)⁻¹ = R⁻¹R⁻ᵀ
		var rInv mat.Dense
		if err := rInv.Inverse(rTop); err == nil {
			for c, j := range active {
				row := mat.Row(nil, c, &rInv)
				se := math.Sqrt(floats.Dot(row, row) * sigma2)
				d.StdErrors[j] = se
				if se > 0 {
					d.TValues[j] = beta.AtVec(c) / se
				}
			}
		}
	}

	return d
}

func isZeroColumn(x *mat.Dense, j int) bool {
	r, _ := x.Dims()
	for i := 0; i < r; i++ {
		if x.At(i, j) != 0 {
			return false
		}
	}
	return true
}
