package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sawpanic/factorrun/internal/attribution"
)

// WriteDiagnostics prints the regression table: one row per design column
// followed by the fit statistics.
func WriteDiagnostics(out io.Writer, model *attribution.FittedModel) error {
	diag := model.Diagnostics()
	values := model.Values()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Column\tCoef\tStd Err\tt\t")
	fmt.Fprintln(w, "------\t----\t-------\t-\t")
	for i, name := range model.Columns() {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.3f\t\n", name, values[i], diag.StdErrors[i], diag.TValues[i])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nObservations: %d   R²: %.4f   Adj. R²: %.4f   F: %.3f   Resid. SE: %.6f\n",
		diag.Observations, diag.RSquared, diag.AdjRSquared, diag.FStatistic, diag.ResidualStdErr)
	if len(diag.Aliased) > 0 {
		fmt.Fprintf(out, "Pinned to zero (all-zero columns): %s\n", strings.Join(diag.Aliased, ", "))
	}
	return nil
}

// WriteSummary prints the narrative lines
func WriteSummary(out io.Writer, summary attribution.Summary) error {
	_, err := fmt.Fprintln(out, strings.Join(summary.Lines, "\n"))
	return err
}
