// Package recordstore persists records under a project tree. Each record
// owns one directory holding its JSON file, rotated numbered backups, and
// the execution-artifact file written by the agent (or rebuilt by the
// recovery subsystem).
//
// Layout per project base:
//
//	.automaker/features/<id>/feature.json
//	.automaker/features/<id>/feature.json.backup.1..N
//	.automaker/features/<id>/output.md
package recordstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hanoibanhcuon/automaker/internal/domain"
)

// ErrNotFound is returned when a record id does not exist in the project.
var ErrNotFound = errors.New("record not found")

// MaxBackups is how many numbered backups are kept per record.
const MaxBackups = 3

const (
	stateDirName   = ".automaker"
	featuresDir    = "features"
	recordFileName = "feature.json"
	outputFileName = "output.md"
)

// Store reads and writes records for a single project.
type Store struct {
	base string
}

// New creates a Store rooted at the given project base directory.
func New(projectBase string) *Store {
	return &Store{base: projectBase}
}

// Base returns the project base directory.
func (s *Store) Base() string { return s.base }

// RecordDir returns the directory owned by a record.
func (s *Store) RecordDir(id string) string {
	return filepath.Join(s.base, stateDirName, featuresDir, id)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.RecordDir(id), recordFileName)
}

func (s *Store) backupPath(id string, n int) string {
	return fmt.Sprintf("%s.backup.%d", s.recordPath(id), n)
}

// OutputPath returns the path of a record's execution artifact.
func (s *Store) OutputPath(id string) string {
	return filepath.Join(s.RecordDir(id), outputFileName)
}

// Get loads a record by id.
func (s *Store) Get(id string) (*domain.Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", id, err)
	}
	return &rec, nil
}

// List loads every record in the project, sorted by id. Directories whose
// record file is missing or unparseable are skipped: a corrupt record is a
// recovery target, not a reason to fail the listing.
func (s *Store) List() ([]*domain.Record, error) {
	dir := filepath.Join(s.base, stateDirName, featuresDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*domain.Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Save writes a record, rotating the existing file into the numbered
// backup chain first. The write itself is atomic: a failed save leaves the
// previous record file intact.
func (s *Store) Save(rec *domain.Record) error {
	if rec.ID == "" {
		return errors.New("record has no id")
	}
	if err := os.MkdirAll(s.RecordDir(rec.ID), 0o755); err != nil {
		return err
	}

	s.rotateBackups(rec.ID)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.recordPath(rec.ID), data)
}

// rotateBackups shifts feature.json into .backup.1, pushing older backups
// down the chain. Rotation failures are ignored: backups are best-effort
// evidence, never authoritative.
func (s *Store) rotateBackups(id string) {
	for n := MaxBackups - 1; n >= 1; n-- {
		os.Rename(s.backupPath(id, n), s.backupPath(id, n+1))
	}
	if data, err := os.ReadFile(s.recordPath(id)); err == nil {
		os.WriteFile(s.backupPath(id, 1), data, 0o644)
	}
}

// Backups loads up to MaxBackups snapshots of a record, oldest last.
// Missing or corrupt backups are silently skipped.
func (s *Store) Backups(id string) []*domain.Record {
	var snapshots []*domain.Record
	for n := 1; n <= MaxBackups; n++ {
		data, err := os.ReadFile(s.backupPath(id, n))
		if err != nil {
			continue
		}
		var rec domain.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		snapshots = append(snapshots, &rec)
	}
	return snapshots
}

// ReadOutput returns a record's execution artifact, or "" when absent.
func (s *Store) ReadOutput(id string) string {
	data, err := os.ReadFile(s.OutputPath(id))
	if err != nil {
		return ""
	}
	return string(data)
}

// HasOutput reports whether a non-empty execution artifact exists.
func (s *Store) HasOutput(id string) bool {
	info, err := os.Stat(s.OutputPath(id))
	return err == nil && info.Size() > 0
}

// WriteOutput replaces a record's execution artifact.
func (s *Store) WriteOutput(id, content string) error {
	if err := os.MkdirAll(s.RecordDir(id), 0o755); err != nil {
		return err
	}
	return writeAtomic(s.OutputPath(id), []byte(content))
}

// writeAtomic writes data to a temp file in the target's directory, then
// renames it over the target. Readers never observe a half-written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
