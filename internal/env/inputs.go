package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Input is a resolved file whose content contributes to environment identity.
type Input struct {
	// Path is the expanded, slash-normalized file path.
	Path string

	// Content is the raw file content. Metadata (mtime, mode) is ignored.
	Content []byte
}

// InputSet is the complete set of resolved inputs, sorted by Path.
type InputSet struct {
	Inputs []Input
}

// Paths returns the sorted paths of the set.
func (s *InputSet) Paths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		out = append(out, in.Path)
	}
	return out
}

// InputResolver expands declared input patterns into a deterministic InputSet.
//
// Expansion is strictly sorted and deduplicated so that filesystem ordering
// can never influence fingerprints. Patterns support the doublestar-free
// subset understood by filepath.Glob plus a "dir/**.ext" recursive form.
type InputResolver struct {
	// BaseDir anchors relative patterns.
	BaseDir string
}

// NewInputResolver creates a resolver rooted at baseDir.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands all patterns, sorts and deduplicates the matches, and reads
// file contents. Directories matched by a pattern are silently skipped.
func (r *InputResolver) Resolve(patterns []string) (*InputSet, error) {
	if len(patterns) == 0 {
		return &InputSet{Inputs: []Input{}}, nil
	}

	pathSet := make(map[string]struct{})
	for _, pattern := range patterns {
		expanded, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, p := range expanded {
			pathSet[p] = struct{}{}
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	inputs := make([]Input, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(filepath.FromSlash(path))
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", path, err)
		}
		inputs = append(inputs, Input{Path: path, Content: content})
	}

	return &InputSet{Inputs: inputs}, nil
}

func (r *InputResolver) expandPattern(pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(pattern) {
		full = filepath.Join(r.BaseDir, pattern)
	}

	var matches []string
	var err error
	if dir, suffix, ok := splitRecursive(full); ok {
		matches, err = walkSuffix(dir, suffix)
	} else {
		matches, err = filepath.Glob(full)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	// A plain path with no glob characters is a literal file reference.
	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, err := os.Stat(full); err == nil {
			matches = []string{full}
		}
	}

	normalized := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", match, err)
		}
		if info.IsDir() {
			continue
		}
		normalized = append(normalized, filepath.ToSlash(match))
	}
	return normalized, nil
}

// splitRecursive recognizes the "dir/**.ext" (or "dir/**") recursive form and
// returns the directory to walk and the filename suffix to match.
func splitRecursive(pattern string) (dir, suffix string, ok bool) {
	idx := -1
	for i := 0; i+1 < len(pattern); i++ {
		if pattern[i] == '*' && pattern[i+1] == '*' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", false
	}
	dir = filepath.Dir(pattern[:idx] + "x")
	suffix = pattern[idx+2:]
	return dir, suffix, true
}

func walkSuffix(dir, suffix string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if suffix == "" || len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func containsGlobChar(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
