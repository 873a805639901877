package env

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CacheEntry is a stored successful environment result.
//
// Only successful runs are cached: a failed environment must re-invoke its
// tools on every run, since the failure model is pure delegation.
type CacheEntry struct {
	Fingerprint Fingerprint  `json:"fingerprint"`
	Steps       []CachedStep `json:"steps"`
}

// CachedStep mirrors StepResult without runtime-dependent fields.
type CachedStep struct {
	Index    int    `json:"index"`
	Command  string `json:"command"`
	Stdout   []byte `json:"stdout"`
	Stderr   []byte `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Ignored  bool   `json:"ignored,omitempty"`
}

func newCacheEntry(res *Result) *CacheEntry {
	entry := &CacheEntry{Fingerprint: res.Fingerprint, Steps: make([]CachedStep, 0, len(res.Steps))}
	for _, s := range res.Steps {
		entry.Steps = append(entry.Steps, CachedStep{
			Index:    s.Index,
			Command:  s.Command,
			Stdout:   s.Stdout,
			Stderr:   s.Stderr,
			ExitCode: s.ExitCode,
			Ignored:  s.Ignored,
		})
	}
	return entry
}

func (e *CacheEntry) toResult(name string, fp Fingerprint) *Result {
	res := &Result{Name: name, Fingerprint: fp, UpToDate: true}
	for _, s := range e.Steps {
		res.Steps = append(res.Steps, StepResult{
			Index:    s.Index,
			Command:  s.Command,
			Stdout:   s.Stdout,
			Stderr:   s.Stderr,
			ExitCode: s.ExitCode,
			Ignored:  s.Ignored,
		})
	}
	return res
}

// ResultCache stores and retrieves successful environment results keyed by
// fingerprint.
type ResultCache interface {
	// Get retrieves an entry, or nil if absent.
	Get(fp Fingerprint) (*CacheEntry, error)

	// Put stores an entry. Entries with a failing step that is not ignored
	// are rejected.
	Put(entry *CacheEntry) error
}

// FileCache is a filesystem-backed ResultCache.
//
// Layout: {Dir}/{fp[0:2]}/{fp}.json, committed atomically so a crash can
// only produce a cache miss, never a corrupt entry.
type FileCache struct {
	Dir string
}

// NewFileCache creates a cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

func (c *FileCache) entryPath(fp Fingerprint) string {
	s := string(fp)
	if len(s) < 2 {
		return filepath.Join(c.Dir, s+".json")
	}
	return filepath.Join(c.Dir, s[:2], s+".json")
}

// Get retrieves an entry by fingerprint.
func (c *FileCache) Get(fp Fingerprint) (*CacheEntry, error) {
	data, err := os.ReadFile(c.entryPath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache entry: %w", err)
	}
	return &entry, nil
}

// Put stores an entry atomically.
func (c *FileCache) Put(entry *CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	path := c.entryPath(entry.Fingerprint)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// MemoryCache is an in-process ResultCache for tests and one-shot runs.
type MemoryCache struct {
	entries map[Fingerprint]*CacheEntry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Fingerprint]*CacheEntry)}
}

// Get retrieves an entry by fingerprint.
func (c *MemoryCache) Get(fp Fingerprint) (*CacheEntry, error) {
	entry, ok := c.entries[fp]
	if !ok {
		return nil, nil
	}
	return copyEntry(entry), nil
}

// Put stores a copy of the entry.
func (c *MemoryCache) Put(entry *CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	c.entries[entry.Fingerprint] = copyEntry(entry)
	return nil
}

func validateEntry(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	if entry.Fingerprint == "" {
		return fmt.Errorf("cache entry fingerprint is empty")
	}
	for _, s := range entry.Steps {
		if s.ExitCode != 0 && !s.Ignored {
			return fmt.Errorf("refusing to cache failed result (step %d exited %d)", s.Index, s.ExitCode)
		}
	}
	return nil
}

func copyEntry(entry *CacheEntry) *CacheEntry {
	cp := &CacheEntry{Fingerprint: entry.Fingerprint, Steps: make([]CachedStep, len(entry.Steps))}
	for i, s := range entry.Steps {
		cp.Steps[i] = CachedStep{
			Index:    s.Index,
			Command:  s.Command,
			Stdout:   append([]byte(nil), s.Stdout...),
			Stderr:   append([]byte(nil), s.Stderr...),
			ExitCode: s.ExitCode,
			Ignored:  s.Ignored,
		}
	}
	return cp
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
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
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
