// Package store keeps a bounded, ordered history of measurements in a single
// JSON file. The file holds a JSON array, oldest first, and is rewritten in
// full on every append.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
)

// DefaultMaxRecords is the retention cap.
const DefaultMaxRecords = 100

// Record is a stored measurement. Timestamp is assigned on insertion.
type Record struct {
	protocol.Measurement
	Timestamp string `json:"timestamp"`
}

// Store is a file-backed record list safe for concurrent use. Appends are
// serialized; the newest MaxRecords records are retained.
type Store struct {
	path string
	max  int
	now  func() time.Time

	mu      sync.RWMutex
	records []Record
}

// Open loads path if it exists. A missing file starts an empty history.
func Open(path string, maxRecords int) (*Store, error) {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	s := &Store{path: path, max: maxRecords, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("store: reading %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("store: parsing %s: %w", path, err)
		}
	}
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	slog.Info("[STORE] loaded measurements", "path", path, "count", len(s.records))
	return s, nil
}

// Append timestamps m, adds it as the newest record and persists the
// history. When the cap is exceeded the oldest records are discarded.
func (s *Store) Append(m protocol.Measurement) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{Measurement: m, Timestamp: s.now().Format(time.RFC3339Nano)}

	next := make([]Record, 0, len(s.records)+1)
	next = append(next, s.records...)
	next = append(next, rec)
	if len(next) > s.max {
		next = next[len(next)-s.max:]
	}

	if err := s.write(next); err != nil {
		return Record{}, err
	}
	s.records = next
	return rec, nil
}

// Latest returns the newest record, if any.
func (s *Store) Latest() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

// All returns a copy of the history, oldest first.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// write replaces the file atomically: temp file, then rename.
func (s *Store) write(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: replacing %s: %w", s.path, err)
	}
	return nil
}
