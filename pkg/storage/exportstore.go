package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const exportSubdir = "timetables"

// ExportStore keeps rendered timetable exports on local disk. File names are
// derived here from the timetable and export ids, so callers never hand the
// store a path of their own.
type ExportStore struct {
	baseDir string
}

// NewExportStore ensures the export directory exists and returns a handle.
func NewExportStore(baseDir string) (*ExportStore, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(filepath.Join(baseDir, exportSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("create exports directory: %w", err)
	}
	return &ExportStore{baseDir: baseDir}, nil
}

// Save writes one rendered export and returns its store-relative name. The
// name doubles as the reference embedded in signed download tokens.
func (s *ExportStore) Save(timetableID, exportID, format string, data []byte) (string, error) {
	name := filepath.Join(exportSubdir, fmt.Sprintf("%s-%s.%s", sanitizeID(timetableID), sanitizeID(exportID), sanitizeID(format)))
	if err := os.WriteFile(filepath.Join(s.baseDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored export. Names that resolve
// outside the store are refused, so a tampered token cannot read other files.
func (s *ExportStore) Open(name string) (*os.File, error) {
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("invalid export name %q", name)
	}
	file, err := os.Open(filepath.Join(s.baseDir, name))
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// PruneOlderThan removes exports whose files outlived their download window
// and returns the removed names.
func (s *ExportStore) PruneOlderThan(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	pruned := make([]string, 0)
	root := filepath.Join(s.baseDir, exportSubdir)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		pruned = append(pruned, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prune exports: %w", err)
	}
	return pruned, nil
}

// sanitizeID strips anything that could act as a path element. Ids are
// uuids in practice; this guards the odd hand-crafted one.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', 0:
			return '_'
		}
		return r
	}, id)
}
