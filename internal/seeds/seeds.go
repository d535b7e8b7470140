// Package seeds stores uploaded CSV fixtures in the build tool's seeds dir.
package seeds

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidName = errors.New("invalid seed file name")
	ErrNotCSV      = errors.New("seed file is not valid CSV")
	ErrTooLarge    = errors.New("seed file too large")
)

// File describes a seed file on disk.
type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store writes and lists CSV files in one directory.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates a Store for dir. maxBytes <= 0 means no size limit.
func NewStore(dir string, maxBytes int64) *Store {
	return &Store{dir: dir, maxBytes: maxBytes}
}

// Dir returns the seeds directory.
func (s *Store) Dir() string { return s.dir }

// ValidateName checks that name is a plain .csv file name.
func ValidateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("%w: %q must end in .csv", ErrInvalidName, name)
	}
	return nil
}

// Save validates r as CSV and writes it to dir/name, replacing any existing
// file of that name. It returns the written path.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err := validateCSV(data); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create seeds dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write seed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write seed: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to chmod seed: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to save seed: %w", err)
	}
	return path, nil
}

// List returns the CSV files in the seeds dir sorted by name. A missing
// directory yields an empty list.
func (s *Store) List() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}

	files := []File{}
	for _, e := range entries {
		if e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// validateCSV requires a non-empty header and well-formed records.
func validateCSV(data []byte) error {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: empty file", ErrNotCSV)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotCSV, err)
	}
	for i, col := range header {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("%w: header column %d is empty", ErrNotCSV, i+1)
		}
	}
	for {
		_, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotCSV, err)
		}
	}
}
