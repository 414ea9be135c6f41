package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--json-logs", "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAlignThenAttribute(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "index_returns.csv")
	factors := filepath.Join(dir, "factors.csv")
	aligned := filepath.Join(dir, "aligned_data.csv")
	outputs := filepath.Join(dir, "outputs")

	require.NoError(t, os.WriteFile(index, []byte(
		"Date,Returns\n2020-01-02,0.01\n2020-01-03,-0.02\n2020-01-06,0.015\n2020-01-07,0.005\n2020-01-08,0.003\n"), 0644))
	require.NoError(t, os.WriteFile(factors, []byte(
		"Date,F\n2020-01-02,0.02\n2020-01-03,-0.01\n2020-01-06,0.03\n2020-01-07,\n"), 0644))

	_, err := execute(t, "align", "--index", index, "--factors", factors, "--out", aligned)
	require.NoError(t, err)

	data, err := os.ReadFile(aligned)
	require.NoError(t, err)
	assert.Equal(t, "Date,Returns,F\n2020-01-02,0.01,0.02\n2020-01-03,-0.02,-0.01\n2020-01-06,0.015,0.03\n2020-01-07,0.005,0\n", string(data))

	out, err := execute(t, "attribute", "--data", aligned, "--out", outputs, "--no-compare", "--any-factors")
	require.NoError(t, err)
	assert.Contains(t, out, "### Multi-Factor Attribution Summary")
	assert.Contains(t, out, "Overall, the model explains an average of 0.00250 of daily index returns.")

	for _, name := range []string{"regression_coefficients.csv", "factor_contributions.json", "summary_report.txt"} {
		_, err := os.Stat(filepath.Join(outputs, name))
		assert.NoError(t, err, name)
	}
}

func TestAttribute_ShapeMismatchWritesNothing(t *testing.T) {
	dir := t.TempDir()
	aligned := filepath.Join(dir, "aligned_data.csv")
	outputs := filepath.Join(dir, "outputs")
	require.NoError(t, os.WriteFile(aligned, []byte(
		"Date,Returns,Gold\n2020-01-02,0.01,0.02\n2020-01-03,-0.02,-0.01\n2020-01-06,0.015,0.03\n"), 0644))

	attributeAnyFactor = false
	_, err := execute(t, "attribute", "--data", aligned, "--out", outputs, "--any-factors=false")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Gold") || strings.Contains(err.Error(), "missing"))

	_, statErr := os.Stat(outputs)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, appName+" "+version+"\n", out)
}
