package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store provides persistent storage for run records under:
//
//	<root>/.envmatrix/runs/<run-id>/run.json
//
// All writes are atomic and durable (file sync + atomic rename + dir sync).
type Store struct {
	root string
}

// NewStore creates a store anchored at the project root.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root is required")
	}
	return &Store{root: root}, nil
}

// NewRunID mints a fresh run identifier.
func (s *Store) NewRunID() string {
	return uuid.NewString()
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.root, ".envmatrix", "runs")
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runsRootDir(), runID, "run.json")
}

// ListRunIDs returns all run IDs present on disk, sorted lexicographically.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := strings.TrimSpace(e.Name())
		if name == "" {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveRun persists a run record.
func (s *Store) SaveRun(r Run) error {
	if s == nil {
		return errors.New("nil Store")
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid run record: %w", err)
	}

	path := s.runPath(r.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	return writeFileDurable(path, data, 0o644)
}

// LoadRun loads a run record by ID.
func (s *Store) LoadRun(runID string) (Run, error) {
	if s == nil {
		return Run{}, errors.New("nil Store")
	}
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		return Run{}, err
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return Run{}, fmt.Errorf("parsing run record %s: %w", runID, err)
	}
	return r, nil
}

// LatestRun returns the most recent run record for the given matrix hash.
//
// Determinism: ties on StartTime break toward the lexically smaller RunID.
// Returns os.ErrNotExist when no run matches.
func (s *Store) LatestRun(matrixHash string) (Run, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return Run{}, err
	}

	var best Run
	var bestTime time.Time
	found := false
	for _, id := range ids {
		r, err := s.LoadRun(id)
		if err != nil {
			continue // unreadable records are skipped, not fatal
		}
		if r.MatrixHash != matrixHash {
			continue
		}
		if !found || r.StartTime.After(bestTime) || (r.StartTime.Equal(bestTime) && r.RunID < best.RunID) {
			best = r
			bestTime = r.StartTime
			found = true
		}
	}
	if !found {
		return Run{}, os.ErrNotExist
	}
	return best, nil
}

// writeFileDurable writes data via a temp file, fsyncs it, renames it into
// place, and fsyncs the parent directory. A crash at any point yields either
// the old content or the new content, never a torn file.
func writeFileDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return nil // rename already landed; dir sync is best-effort
	}
	_ = d.Sync()
	return d.Close()
}
