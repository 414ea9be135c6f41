package io

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_CommitWritesAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outputs")

	b := NewBatch()
	b.AddFile(filepath.Join(dir, "a.csv"), []byte(",0\nconst,1\n"))
	b.AddLines(filepath.Join(dir, "summary.txt"), []string{"one", "", "two"})
	require.NoError(t, b.AddJSON(filepath.Join(dir, "c.json"), map[string]int{"x": 1}))

	require.NoError(t, b.Commit())

	data, err := os.ReadFile(filepath.Join(dir, "summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "c.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestBatch_FailureLeavesPriorOutput(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "summary.txt")
	require.NoError(t, os.WriteFile(existing, []byte("previous run"), 0644))

	// A directory where a file should go makes staging fail
	blocked := filepath.Join(dir, "blocked.json")
	require.NoError(t, os.MkdirAll(blocked+".tmp", 0755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked+".tmp", "keep"), nil, 0644))

	b := NewBatch()
	b.AddLines(existing, []string{"new run"})
	b.AddFile(blocked, []byte("{}"))

	require.Error(t, b.Commit())

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "previous run", string(data))
	_, err = os.Stat(existing + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(blocked)
	assert.True(t, os.IsNotExist(err))
}

func TestBatch_PublishFailureRestoresEarlierFiles(t *testing.T) {
	dir := t.TempDir()
	coef := filepath.Join(dir, "coef.csv")
	require.NoError(t, os.WriteFile(coef, []byte("old"), 0644))
	fresh := filepath.Join(dir, "fresh.json")

	// Staging succeeds but the last destination cannot be replaced
	summary := filepath.Join(dir, "summary.txt")
	require.NoError(t, os.MkdirAll(summary, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(summary, "keep"), nil, 0644))

	b := NewBatch()
	b.AddFile(coef, []byte("new"))
	b.AddFile(fresh, []byte("{}"))
	b.AddLines(summary, []string{"new run"})

	err := b.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary.txt")

	data, err := os.ReadFile(coef)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	_, err = os.Stat(fresh)
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(summary)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
		assert.NotContains(t, e.Name(), ".bak")
	}
}

func TestBatch_ReplacesExistingWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coef.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, WriteFileAtomic(path, []byte("new")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err))
}

func TestBatch_LaterAddReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	b := NewBatch()
	b.AddFile(path, []byte("first"))
	b.AddFile(path, []byte("second"))
	assert.Equal(t, []string{path}, b.Paths())

	require.NoError(t, b.Commit())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteHelpers(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteFileAtomic(filepath.Join(dir, "raw"), []byte("abc")))
	require.NoError(t, WriteLinesAtomic(filepath.Join(dir, "lines"), []string{"a", "b"}))
	require.NoError(t, WriteJSONAtomic(filepath.Join(dir, "doc.json"), []int{1, 2}))

	data, _ := os.ReadFile(filepath.Join(dir, "lines"))
	assert.Equal(t, "a\nb", string(data))
	data, _ = os.ReadFile(filepath.Join(dir, "doc.json"))
	assert.JSONEq(t, "[1,2]", string(data))
}
