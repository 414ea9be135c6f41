package dataset

import (
	"fmt"
	"math"
	"time"
)

// Align inner-joins index returns with factor series on the exact timestamp,
// so two intraday rows on one calendar day stay distinct. Factor cells
// missing on a shared date are filled with zero; dates present on only one
// side are dropped. The result is ordered by date.
func Align(index *Frame, factors *Frame) (*Dataset, error) {
	returns, ok := index.Column(ReturnsColumn)
	if !ok {
		return nil, &ShapeMismatchError{Reason: "index series has no Returns column", Missing: []string{ReturnsColumn}}
	}
	if len(factors.Columns) == 0 {
		return nil, &ShapeMismatchError{Reason: "factor series has no columns"}
	}

	byTime := make(map[time.Time]int, len(factors.Dates))
	for i, d := range factors.Dates {
		key := instantKey(d)
		if _, dup := byTime[key]; dup {
			return nil, fmt.Errorf("duplicate factor date %s", key.Format(time.RFC3339))
		}
		byTime[key] = i
	}

	ds := &Dataset{Factors: append([]string(nil), factors.Columns...)}
	seen := make(map[time.Time]bool, len(index.Dates))
	for i, d := range index.Dates {
		key := instantKey(d)
		j, ok := byTime[key]
		if !ok {
			continue
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate index date %s", key.Format(time.RFC3339))
		}
		seen[key] = true

		row := make([]float64, len(factors.Columns))
		for k, v := range factors.Values[j] {
			row[k] = fillZero(v)
		}
		ds.Dates = append(ds.Dates, d)
		ds.Returns = append(ds.Returns, fillZero(returns[i]))
		ds.Values = append(ds.Values, row)
	}

	if ds.Len() == 0 {
		return nil, &ShapeMismatchError{Reason: "index and factor series share no dates"}
	}

	ds.SortByDate()
	return ds, nil
}

// instantKey normalizes zone and drops the monotonic reading so equal
// instants compare equal as map keys
func instantKey(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func fillZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
