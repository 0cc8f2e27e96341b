// Package state persists the pipeline's watermark and seen-identifier set.
//
// The record is loaded once at run start, passed through the pipeline as an
// explicit value, and written back exactly once after confirmed delivery.
// Writes are atomic (temp file + rename) so an interrupted run always leaves
// the previous valid record on disk.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// ErrPersist marks a failed state write. Callers must treat it as fatal:
// silently losing a state write risks duplicate or missed delivery on the
// next run.
var ErrPersist = errors.New("state persist failed")

// Record is the persisted run state. The zero value is the state of a
// deployment that has never completed a run.
type Record struct {
	LastRunAt       time.Time `json:"last_run_at,omitzero"`
	SeenIdentifiers []string  `json:"seen_identifiers"`
	RetentionDays   int       `json:"seen_identifiers_retention_days,omitempty"`
}

// SeenSet returns the seen identifiers as a lookup set.
func (r Record) SeenSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.SeenIdentifiers))
	for _, id := range r.SeenIdentifiers {
		set[id] = struct{}{}
	}
	return set
}

// Advanced returns a copy of the record with the watermark moved to now and
// the given identifiers appended. The watermark never moves backwards, and
// already-present identifiers are not duplicated.
func (r Record) Advanced(now time.Time, delivered []string) Record {
	out := Record{
		LastRunAt:       r.LastRunAt,
		SeenIdentifiers: slices.Clone(r.SeenIdentifiers),
		RetentionDays:   r.RetentionDays,
	}
	if now.After(out.LastRunAt) {
		out.LastRunAt = now.UTC()
	}
	seen := out.SeenSet()
	for _, id := range delivered {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out.SeenIdentifiers = append(out.SeenIdentifiers, id)
	}
	return out
}

// Pruned returns a copy of the record with the given identifiers removed
// from the seen set. Pruning is the only sanctioned way an identifier
// leaves the set.
func (r Record) Pruned(remove []string) Record {
	if len(remove) == 0 {
		return r
	}
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := Record{LastRunAt: r.LastRunAt, RetentionDays: r.RetentionDays}
	for _, id := range r.SeenIdentifiers {
		if _, ok := drop[id]; !ok {
			out.SeenIdentifiers = append(out.SeenIdentifiers, id)
		}
	}
	return out
}

// Store reads and writes the state file.
type Store struct {
	path string
}

// NewStore creates a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the state record. A missing file yields the zero record, not
// an error: a fresh deployment simply has no history yet.
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("reading state file %s: %w", s.path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parsing state file %s: %w", s.path, err)
	}
	return rec, nil
}

// Save writes the record atomically: the new content goes to a temp file in
// the same directory, then replaces the old file via rename. The previous
// record stays intact until the rename succeeds.
func (s *Store) Save(rec Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating state dir: %v", ErrPersist, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrPersist, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrPersist, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing temp file: %v", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", ErrPersist, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrPersist, s.path, err)
	}
	return nil
}
