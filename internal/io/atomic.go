package io

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes data to path through a temp file + rename
func WriteFileAtomic(path string, data []byte) error {
	b := NewBatch()
	b.AddFile(path, data)
	return b.Commit()
}

// WriteLinesAtomic writes lines joined by newlines, without a trailing newline
func WriteLinesAtomic(path string, lines []string) error {
	b := NewBatch()
	b.AddLines(path, lines)
	return b.Commit()
}

// WriteJSONAtomic writes indented JSON atomically
func WriteJSONAtomic(path string, v any) error {
	b := NewBatch()
	if err := b.AddJSON(path, v); err != nil {
		return err
	}
	return b.Commit()
}

type staged struct {
	path string
	data []byte
}

// Batch stages several files and publishes them together. Nothing touches
// the final paths until every temp file has been written. While publishing,
// existing files are moved to *.bak; if any rename fails, files already
// published are reverted and the backups restored, so existing output stays
// as it was.
type Batch struct {
	files []staged
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// AddFile stages raw bytes; a later Add for the same path replaces it
func (b *Batch) AddFile(path string, data []byte) {
	for i := range b.files {
		if b.files[i].path == path {
			b.files[i].data = data
			return
		}
	}
	b.files = append(b.files, staged{path: path, data: data})
}

// AddLines stages lines joined by "\n"
func (b *Batch) AddLines(path string, lines []string) {
	b.AddFile(path, []byte(strings.Join(lines, "\n")))
}

// AddJSON stages v marshalled with two-space indentation
func (b *Batch) AddJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	b.AddFile(path, data)
	return nil
}

// Paths lists the staged destinations in insertion order
func (b *Batch) Paths() []string {
	paths := make([]string, len(b.files))
	for i, f := range b.files {
		paths[i] = f.path
	}
	return paths
}

// Commit writes every staged file to <path>.tmp, then renames them all
func (b *Batch) Commit() error {
	tmpPaths := make([]string, 0, len(b.files))
	cleanup := func() {
		for _, p := range tmpPaths {
			os.Remove(p)
		}
	}

	for _, f := range b.files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			cleanup()
			return fmt.Errorf("create directory for %s: %w", f.path, err)
		}
		tmpPath := f.path + ".tmp"
		if err := os.WriteFile(tmpPath, f.data, 0644); err != nil {
			os.Remove(tmpPath)
			cleanup()
			return fmt.Errorf("stage %s: %w", f.path, err)
		}
		tmpPaths = append(tmpPaths, tmpPath)
	}

	var done []publishedFile
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			p := done[i]
			if p.backup != "" {
				os.Rename(p.backup, p.path)
			} else {
				os.Remove(p.path)
			}
		}
	}

	for i, f := range b.files {
		backup, err := backupExisting(f.path)
		if err != nil {
			rollback()
			cleanup()
			return fmt.Errorf("publish %s: %w", f.path, err)
		}
		if err := os.Rename(tmpPaths[i], f.path); err != nil {
			if backup != "" {
				os.Rename(backup, f.path)
			}
			rollback()
			cleanup()
			return fmt.Errorf("publish %s: %w", f.path, err)
		}
		done = append(done, publishedFile{path: f.path, backup: backup})
	}

	for _, p := range done {
		if p.backup != "" {
			os.Remove(p.backup)
		}
	}
	b.files = nil
	return nil
}

type publishedFile struct {
	path   string
	backup string // empty when nothing existed at path
}

// backupExisting moves a current file at path aside to path.bak so a failed
// publish can put it back
func backupExisting(path string) (string, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("destination is a directory")
	}
	backup := path + ".bak"
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("back up existing file: %w", err)
	}
	return backup, nil
}
