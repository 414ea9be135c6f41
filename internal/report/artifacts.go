// Package report renders attribution results to files and the console
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/attribution"
	fio "github.com/sawpanic/factorrun/internal/io"
)

// Layout names the artifact files inside Dir
type Layout struct {
	Dir           string
	Coefficients  string
	Contributions string
	Summary       string
}

// DefaultLayout is the outputs/ layout of the reference scripts
func DefaultLayout(dir string) Layout {
	return Layout{
		Dir:           dir,
		Coefficients:  "regression_coefficients.csv",
		Contributions: "factor_contributions.json",
		Summary:       "summary_report.txt",
	}
}

// Paths returns the three artifact paths in write order
func (l Layout) Paths() []string {
	return []string{
		filepath.Join(l.Dir, l.Coefficients),
		filepath.Join(l.Dir, l.Contributions),
		filepath.Join(l.Dir, l.Summary),
	}
}

// CoefficientsCSV renders the ",0" header followed by one name,value row per
// design column, const first.
func CoefficientsCSV(model *attribution.FittedModel) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"", "0"}); err != nil {
		return nil, err
	}
	values := model.Values()
	for i, name := range model.Columns() {
		if err := w.Write([]string{name, strconv.FormatFloat(values[i], 'g', -1, 64)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArtifacts publishes coefficients, contributions and summary as one
// atomic batch. Nothing is touched if any artifact fails to render.
func WriteArtifacts(layout Layout, res *attribution.Result) error {
	paths := layout.Paths()
	coefPath, contribPath, summaryPath := paths[0], paths[1], paths[2]

	coef, err := CoefficientsCSV(res.Model)
	if err != nil {
		return fmt.Errorf("render coefficients: %w", err)
	}

	batch := fio.NewBatch()
	batch.AddFile(coefPath, coef)
	if err := batch.AddJSON(contribPath, res.Contributions); err != nil {
		return err
	}
	batch.AddLines(summaryPath, res.Summary.Lines)

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}

	log.Info().
		Str("run_id", res.RunID).
		Strs("paths", paths).
		Msg("Artifacts written")
	return nil
}
