package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Reserved column names that can never be used as factor names
const (
	DateColumn    = "Date"
	ReturnsColumn = "Returns"
)

var reservedColumns = map[string]bool{
	DateColumn:         true,
	ReturnsColumn:      true,
	"const":            true,
	"Predicted_Return": true,
}

// Dataset is the aligned table of index returns and factor values, one row per date.
// Values is row-major: Values[i][j] is factor Factors[j] on Dates[i].
type Dataset struct {
	Dates   []time.Time
	Returns []float64
	Factors []string
	Values  [][]float64
}

// ShapeMismatchError reports a dataset whose shape or column set cannot be attributed
type ShapeMismatchError struct {
	Reason     string
	Missing    []string
	Unexpected []string
}

func (e *ShapeMismatchError) Error() string {
	var b strings.Builder
	b.WriteString("shape mismatch: ")
	b.WriteString(e.Reason)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		fmt.Fprintf(&b, " (unexpected: %s)", strings.Join(e.Unexpected, ", "))
	}
	return b.String()
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Dates)
}

// Validate checks row alignment, date ordering, value completeness and, when
// expected is non-empty, that the factor set matches it exactly.
func (d *Dataset) Validate(expected []string) error {
	if len(d.Factors) == 0 {
		return &ShapeMismatchError{Reason: "dataset has no factor columns"}
	}
	if len(d.Returns) != len(d.Dates) || len(d.Values) != len(d.Dates) {
		return &ShapeMismatchError{Reason: fmt.Sprintf(
			"row counts differ: %d dates, %d returns, %d factor rows",
			len(d.Dates), len(d.Returns), len(d.Values))}
	}

	seen := make(map[string]bool, len(d.Factors))
	for _, name := range d.Factors {
		if name == "" {
			return &ShapeMismatchError{Reason: "empty factor name"}
		}
		if reservedColumns[name] {
			return &ShapeMismatchError{Reason: fmt.Sprintf("factor name %q is reserved", name)}
		}
		if seen[name] {
			return &ShapeMismatchError{Reason: fmt.Sprintf("duplicate factor column %q", name)}
		}
		seen[name] = true
	}

	if len(expected) > 0 {
		want := make(map[string]bool, len(expected))
		var missing, unexpected []string
		for _, name := range expected {
			want[name] = true
			if !seen[name] {
				missing = append(missing, name)
			}
		}
		for _, name := range d.Factors {
			if !want[name] {
				unexpected = append(unexpected, name)
			}
		}
		if len(missing) > 0 || len(unexpected) > 0 {
			return &ShapeMismatchError{
				Reason:     "factor columns do not match the configured factor set",
				Missing:    missing,
				Unexpected: unexpected,
			}
		}
	}

	for i := range d.Dates {
		if i > 0 && !d.Dates[i].After(d.Dates[i-1]) {
			return &ShapeMismatchError{Reason: fmt.Sprintf(
				"dates not strictly increasing at row %d (%s after %s)",
				i, d.Dates[i].Format(time.DateOnly), d.Dates[i-1].Format(time.DateOnly))}
		}
		if len(d.Values[i]) != len(d.Factors) {
			return &ShapeMismatchError{Reason: fmt.Sprintf(
				"row %d has %d factor values, want %d", i, len(d.Values[i]), len(d.Factors))}
		}
		if !finite(d.Returns[i]) {
			return &ShapeMismatchError{Reason: fmt.Sprintf("missing or non-finite return at row %d", i)}
		}
		for j, v := range d.Values[i] {
			if !finite(v) {
				return &ShapeMismatchError{Reason: fmt.Sprintf(
					"missing or non-finite %s value at row %d", d.Factors[j], i)}
			}
		}
	}

	return nil
}

// FactorIndex returns the column position of a factor
func (d *Dataset) FactorIndex(name string) (int, bool) {
	for i, f := range d.Factors {
		if f == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns a copy of one factor's values
func (d *Dataset) Column(name string) ([]float64, bool) {
	j, ok := d.FactorIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(d.Values))
	for i, row := range d.Values {
		out[i] = row[j]
	}
	return out, true
}

// FactorRows returns a deep copy of the factor values
func (d *Dataset) FactorRows() [][]float64 {
	out := make([][]float64, len(d.Values))
	for i, row := range d.Values {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Fingerprint hashes dates, factor names and values so identical inputs share a key
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(strings.Join(d.Factors, ",")))
	h.Write([]byte{'\n'})
	buf := make([]byte, 0, 64)
	for i := range d.Dates {
		buf = buf[:0]
		buf = d.Dates[i].UTC().AppendFormat(buf, time.RFC3339)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, d.Returns[i], 'g', -1, 64)
		for _, v := range d.Values[i] {
			buf = append(buf, ',')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Head returns a dataset view of the first n rows
func (d *Dataset) Head(n int) *Dataset {
	if n > d.Len() {
		n = d.Len()
	}
	return &Dataset{
		Dates:   d.Dates[:n],
		Returns: d.Returns[:n],
		Factors: d.Factors,
		Values:  d.Values[:n],
	}
}

// SortByDate orders rows by ascending date in place
func (d *Dataset) SortByDate() {
	sort.Sort(byDate{d})
}

type byDate struct{ d *Dataset }

func (s byDate) Len() int           { return len(s.d.Dates) }
func (s byDate) Less(i, j int) bool { return s.d.Dates[i].Before(s.d.Dates[j]) }
func (s byDate) Swap(i, j int) {
	s.d.Dates[i], s.d.Dates[j] = s.d.Dates[j], s.d.Dates[i]
	s.d.Returns[i], s.d.Returns[j] = s.d.Returns[j], s.d.Returns[i]
	s.d.Values[i], s.d.Values[j] = s.d.Values[j], s.d.Values[i]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
