package attribution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ContributionRow is one date's additive decomposition of the predicted return
type ContributionRow struct {
	Date      time.Time
	Values    []float64 // aligned with ContributionTable.Columns
	Predicted float64
}

// ContributionTable holds coefficient × value for every date and design column
type ContributionTable struct {
	Columns []string // design columns, constant first
	Rows    []ContributionRow
}

// Decompose multiplies each design value by its column's coefficient.
// Predicted is the row sum of the contributions.
func Decompose(dm *DesignMatrix, model *FittedModel) (*ContributionTable, error) {
	if err := model.checkColumns(dm); err != nil {
		return nil, err
	}

	n, k := dm.Rows(), dm.Cols()
	table := &ContributionTable{
		Columns: dm.Columns(),
		Rows:    make([]ContributionRow, n),
	}
	for r := 0; r < n; r++ {
		values := make([]float64, k)
		sum := 0.0
		for c := 0; c < k; c++ {
			values[c] = dm.x.At(r, c) * model.coef[c]
			sum += values[c]
		}
		table.Rows[r] = ContributionRow{Date: dm.dates[r], Values: values, Predicted: sum}
	}

	return table, nil
}

// ColumnIndex returns the position of a design column in the table
func (t *ContributionTable) ColumnIndex(name string) (int, bool) {
	for j, c := range t.Columns {
		if c == name {
			return j, true
		}
	}
	return -1, false
}

// Series returns one column's contributions across all dates
func (t *ContributionTable) Series(name string) ([]float64, bool) {
	j, ok := t.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Values[j]
	}
	return out, true
}

// Predicted returns the Predicted_Return column
func (t *ContributionTable) Predicted() []float64 {
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Predicted
	}
	return out
}

// Verify checks every row's Predicted against an independent prediction
// within a relative tolerance. The scale is the larger of the two values and
// the row's total absolute contribution, so rows whose terms cancel are
// still held to tol.
func (t *ContributionTable) Verify(predicted []float64, tol float64) error {
	if len(predicted) != len(t.Rows) {
		return fmt.Errorf("reconstruction check: %d predictions for %d rows", len(predicted), len(t.Rows))
	}
	for i, row := range t.Rows {
		if !closeEnough(row.Predicted, predicted[i], absSum(row.Values), tol) {
			return fmt.Errorf("reconstruction check: row %d (%s) sums to %.12g, model predicts %.12g",
				i, row.Date.Format(time.DateOnly), row.Predicted, predicted[i])
		}
	}
	return nil
}

// minVerifyScale keeps all-zero rows comparable
const minVerifyScale = 1e-300

func closeEnough(a, b, magnitude, tol float64) bool {
	scale := math.Max(magnitude, math.Max(math.Abs(a), math.Abs(b)))
	if scale < minVerifyScale {
		scale = minVerifyScale
	}
	return math.Abs(a-b) <= tol*scale
}

func absSum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += math.Abs(v)
	}
	return total
}

// MarshalJSON writes the table as flat records, one per date:
// {"Date": ..., "const": ..., "<factor>": ..., "Predicted_Return": ...}
func (t *ContributionTable) MarshalJSON() ([]byte, error) {
	keys := make([][]byte, 0, len(t.Columns)+2)
	for _, name := range append(append([]string{"Date"}, t.Columns...), PredictedColumn) {
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range t.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		buf.Write(keys[0])
		buf.WriteByte(':')
		date, err := json.Marshal(row.Date.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		buf.Write(date)
		for j, v := range append(append([]float64(nil), row.Values...), row.Predicted) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, keys[j+1], err)
			}
			buf.WriteByte(',')
			buf.Write(keys[j+1])
			buf.WriteByte(':')
			buf.Write(encoded)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	return buf.Bytes(), nil
}
