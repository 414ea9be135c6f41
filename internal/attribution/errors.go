package attribution

import (
	"fmt"

	"github.com/sawpanic/factorrun/internal/dataset"
)

// ShapeMismatchError is raised before fitting when the response and design
// rows disagree or the expected factor columns are absent.
type ShapeMismatchError = dataset.ShapeMismatchError

// SingularMatrixError reports a design matrix without full column rank.
// It is fatal for the run; columns are never dropped to work around it.
type SingularMatrixError struct {
	Column string // first column found to be linearly dependent, if known
	Reason string
}

func (e *SingularMatrixError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("singular design matrix: %s (column %s)", e.Reason, e.Column)
	}
	return "singular design matrix: " + e.Reason
}

// ComparatorFitWarning marks a penalized fit whose score is unavailable
type ComparatorFitWarning struct {
	Model  string
	Reason string
}

func (w *ComparatorFitWarning) Error() string {
	return fmt.Sprintf("%s comparator: %s", w.Model, w.Reason)
}
