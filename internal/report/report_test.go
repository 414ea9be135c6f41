package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/factorrun/internal/attribution"
	"github.com/sawpanic/factorrun/internal/dataset"
)

func scenarioResult(t *testing.T) *attribution.Result {
	t.Helper()
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	ds := &dataset.Dataset{
		Dates:   []time.Time{start, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2), start.AddDate(0, 0, 3)},
		Returns: []float64{0.01, -0.02, 0.015, 0.005},
		Factors: []string{"F"},
		Values:  [][]float64{{0.02}, {-0.01}, {0.03}, {0.00}},
	}
	opts := attribution.DefaultOptions()
	opts.Comparator.Enabled = false

	res, err := attribution.NewEngine(opts, nil).Run(context.Background(), ds)
	require.NoError(t, err)
	return res
}

func TestCoefficientsCSV(t *testing.T) {
	model, err := attribution.NewFittedModel([]string{"const", "Oil", "VIX"}, []float64{0.0004, 0.12, -0.08})
	require.NoError(t, err)

	data, err := CoefficientsCSV(model)
	require.NoError(t, err)
	assert.Equal(t, ",0\nconst,0.0004\nOil,0.12\nVIX,-0.08\n", string(data))
}

func TestWriteArtifacts(t *testing.T) {
	res := scenarioResult(t)
	layout := DefaultLayout(filepath.Join(t.TempDir(), "outputs"))

	require.NoError(t, WriteArtifacts(layout, res))

	paths := layout.Paths()
	coef, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(coef)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, ",0", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "const,"))
	assert.True(t, strings.HasPrefix(lines[2], "F,"))

	raw, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 4)
	assert.Equal(t, "2020-01-02T00:00:00Z", records[0]["Date"])
	assert.InDelta(t, 0.01, records[0]["Predicted_Return"], 1e-12)

	summary, err := os.ReadFile(paths[2])
	require.NoError(t, err)
	assert.Equal(t, strings.Join(res.Summary.Lines, "\n"), string(summary))
}

func TestWriteArtifacts_FailureKeepsPriorOutput(t *testing.T) {
	res := scenarioResult(t)
	dir := t.TempDir()
	layout := DefaultLayout(dir)
	paths := layout.Paths()

	require.NoError(t, os.WriteFile(paths[0], []byte("old coefficients"), 0644))
	// Occupy the summary temp path with a non-empty directory
	require.NoError(t, os.MkdirAll(paths[2]+".tmp", 0755))
	require.NoError(t, os.WriteFile(filepath.Join(paths[2]+".tmp", "x"), nil, 0644))

	require.Error(t, WriteArtifacts(layout, res))

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "old coefficients", string(data))
	_, err = os.Stat(paths[1])
	assert.True(t, os.IsNotExist(err))
}

func TestWriteDiagnostics(t *testing.T) {
	res := scenarioResult(t)

	var buf bytes.Buffer
	require.NoError(t, WriteDiagnostics(&buf, res.Model))

	out := buf.String()
	assert.Contains(t, out, "const")
	assert.Contains(t, out, "0.750000")
	assert.Contains(t, out, "Observations: 4")
	assert.NotContains(t, out, "Pinned to zero")
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, attribution.Summary{Lines: []string{"a", "", "b"}}))
	assert.Equal(t, "a\n\nb\n", buf.String())
}
