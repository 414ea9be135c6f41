package attribution

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/factorrun/internal/dataset"
)

const (
	// ConstColumn is the intercept column, always first in the design matrix
	ConstColumn = "const"
	// PredictedColumn holds the per-row sum of contributions
	PredictedColumn = "Predicted_Return"
)

// DesignMatrix is the factor table with a leading constant column.
// It is immutable once built; accessors hand out copies.
type DesignMatrix struct {
	dates   []time.Time
	columns []string
	x       *mat.Dense
}

// NewDesignMatrix builds the design matrix for a validated dataset
func NewDesignMatrix(ds *dataset.Dataset) (*DesignMatrix, error) {
	return BuildDesign(ds.Dates, ds.Factors, ds.Values)
}

// BuildDesign prepends the constant column to row-major factor values
func BuildDesign(dates []time.Time, factors []string, rows [][]float64) (*DesignMatrix, error) {
	if len(rows) == 0 {
		return nil, &ShapeMismatchError{Reason: "no observations"}
	}
	if len(dates) != len(rows) {
		return nil, &ShapeMismatchError{Reason: fmt.Sprintf("%d dates for %d rows", len(dates), len(rows))}
	}

	k := len(factors) + 1
	data := make([]float64, 0, len(rows)*k)
	for i, row := range rows {
		if len(row) != len(factors) {
			return nil, &ShapeMismatchError{Reason: fmt.Sprintf("row %d has %d values, want %d", i, len(row), len(factors))}
		}
		data = append(data, 1.0)
		data = append(data, row...)
	}

	columns := make([]string, 0, k)
	columns = append(columns, ConstColumn)
	columns = append(columns, factors...)

	return &DesignMatrix{
		dates:   append([]time.Time(nil), dates...),
		columns: columns,
		x:       mat.NewDense(len(rows), k, data),
	}, nil
}

// Rows returns the number of observations
func (dm *DesignMatrix) Rows() int {
	r, _ := dm.x.Dims()
	return r
}

// Cols returns the number of columns including the constant
func (dm *DesignMatrix) Cols() int {
	_, c := dm.x.Dims()
	return c
}

// Columns returns the column names, constant first
func (dm *DesignMatrix) Columns() []string {
	return append([]string(nil), dm.columns...)
}

// Factors returns the factor column names without the constant
func (dm *DesignMatrix) Factors() []string {
	return append([]string(nil), dm.columns[1:]...)
}

// Dates returns the row dates
func (dm *DesignMatrix) Dates() []time.Time {
	return append([]time.Time(nil), dm.dates...)
}

// At returns the value at row r, column c
func (dm *DesignMatrix) At(r, c int) float64 {
	return dm.x.At(r, c)
}

// Row returns a copy of row r
func (dm *DesignMatrix) Row(r int) []float64 {
	return mat.Row(nil, r, dm.x)
}

// Column returns a copy of the named column
func (dm *DesignMatrix) Column(name string) ([]float64, bool) {
	for j, c := range dm.columns {
		if c == name {
			return mat.Col(nil, j, dm.x), true
		}
	}
	return nil, false
}

// Matrix returns a copy of the underlying matrix
func (dm *DesignMatrix) Matrix() *mat.Dense {
	return mat.DenseCopyOf(dm.x)
}
