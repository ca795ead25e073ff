// Package persistence is the JSON snapshot layer. Components hand it
// their in-memory state; it writes one file per concern under the data
// directory, atomically, and restores them on startup. A missing or
// corrupt snapshot never aborts the process — the owning component starts
// empty and a warning is logged.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot file names under the data directory.
const (
	FileEvents    = "angels_learning.json"
	FileAnalytics = "angels_analytics.json"
	FileInsights  = "angels_insights.json"
	FileRegistry  = "model_registry.json"
	FileAlerts    = "alerts_history.json"
	FileIncidents = "incidents_history.json"
	FileMetrics   = "monitoring_data.json"
	FileReports   = "reports_history.json"
	FileDocs      = "documentation.json"
)

// Store reads and writes snapshot files under a single data directory.
// Writes to the same file are serialised; distinct files write
// concurrently.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the data directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the data directory path.
func (s *Store) Dir() string { return s.dir }

// Save marshals v and writes it to name atomically (temp file + rename).
func (s *Store) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot %s: %w", name, err)
	}

	lock := s.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing snapshot %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing snapshot %s: %w", name, err)
	}
	return nil
}

// Load reads name into v. Returns false when no snapshot exists. A
// corrupt snapshot logs a warning and also returns false — restore always
// degrades to empty state rather than failing startup.
func (s *Store) Load(name string, v any) bool {
	lock := s.fileLock(name)
	lock.Lock()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	lock.Unlock()

	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to read snapshot, starting empty", "file", name, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("Snapshot is corrupt, starting empty", "file", name, "error", err)
		return false
	}
	return true
}

func (s *Store) fileLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}
