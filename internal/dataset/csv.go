package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Frame is a dated multi-column table as read from disk. Empty cells are NaN.
type Frame struct {
	Dates   []time.Time
	Columns []string
	Values  [][]float64
}

// Column returns a copy of the named column
func (f *Frame) Column(name string) ([]float64, bool) {
	for j, c := range f.Columns {
		if c == name {
			out := make([]float64, len(f.Values))
			for i, row := range f.Values {
				out[i] = row[j]
			}
			return out, true
		}
	}
	return nil, false
}

// CSVReader reads dated tables in the layout written by the data preparation step
type CSVReader struct {
	dateFormats []string
}

// NewCSVReader creates a CSV reader accepting the common date layouts
func NewCSVReader() *CSVReader {
	return &CSVReader{
		dateFormats: []string{
			time.DateOnly,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05-07:00",
		},
	}
}

// LoadFrame reads a dated table from a file
func (r *CSVReader) LoadFrame(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	frame, err := r.ReadFrame(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// ReadFrame parses a dated table. The first column must hold the date.
func (r *CSVReader) ReadFrame(in io.Reader) (*Frame, error) {
	csvReader := csv.NewReader(in)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV input")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("CSV header needs a date column and at least one value column, got %d columns", len(header))
	}

	frame := &Frame{Columns: make([]string, 0, len(header)-1)}
	for _, name := range header[1:] {
		frame.Columns = append(frame.Columns, strings.TrimSpace(name))
	}

	line := 1
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		date, err := r.parseDate(record[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		row := make([]float64, len(frame.Columns))
		for j := range frame.Columns {
			cell := strings.TrimSpace(record[j+1])
			if cell == "" {
				row[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: invalid number %q", line, frame.Columns[j], cell)
			}
			row[j] = v
		}

		frame.Dates = append(frame.Dates, date)
		frame.Values = append(frame.Values, row)
	}

	return frame, nil
}

// LoadAligned reads an aligned Date,Returns,<factors...> file
func (r *CSVReader) LoadAligned(path string) (*Dataset, error) {
	frame, err := r.LoadFrame(path)
	if err != nil {
		return nil, err
	}
	return FromFrame(frame)
}

// ReadAligned parses an aligned table from a reader
func (r *CSVReader) ReadAligned(in io.Reader) (*Dataset, error) {
	frame, err := r.ReadFrame(in)
	if err != nil {
		return nil, err
	}
	return FromFrame(frame)
}

// FromFrame splits the Returns column from the factor columns
func FromFrame(frame *Frame) (*Dataset, error) {
	returnsIdx := -1
	for j, c := range frame.Columns {
		if c == ReturnsColumn {
			returnsIdx = j
			break
		}
	}
	if returnsIdx < 0 {
		return nil, &ShapeMismatchError{Reason: "no Returns column", Missing: []string{ReturnsColumn}}
	}

	ds := &Dataset{
		Dates:   append([]time.Time(nil), frame.Dates...),
		Returns: make([]float64, len(frame.Values)),
		Values:  make([][]float64, len(frame.Values)),
	}
	for j, c := range frame.Columns {
		if j != returnsIdx {
			ds.Factors = append(ds.Factors, c)
		}
	}
	for i, row := range frame.Values {
		ds.Returns[i] = row[returnsIdx]
		values := make([]float64, 0, len(row)-1)
		for j, v := range row {
			if j != returnsIdx {
				values = append(values, v)
			}
		}
		ds.Values[i] = values
	}

	return ds, nil
}

// WriteCSV writes the dataset as Date,Returns,<factors...>
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)

	header := append([]string{DateColumn, ReturnsColumn}, ds.Factors...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(header))
	for i := range ds.Dates {
		record[0] = ds.Dates[i].Format(time.DateOnly)
		record[1] = strconv.FormatFloat(ds.Returns[i], 'g', -1, 64)
		for j, v := range ds.Values[i] {
			record[j+2] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (r *CSVReader) parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range r.dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
