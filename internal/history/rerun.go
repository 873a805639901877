package history

import (
	"errors"
	"os"
	"sort"
)

// ErrNoPreviousRun reports that rerun selection found no usable prior run
// for the current matrix.
var ErrNoPreviousRun = errors.New("no previous run recorded for this matrix")

// RerunSelection answers --rerun-failed: the environments that failed, or
// were skipped behind a failure, in the most recent run of the same matrix.
//
// The previous run's ID is returned so the new record can link back to it.
func RerunSelection(s *Store, matrixHash string) (envs []string, previousRunID string, err error) {
	prev, err := s.LatestRun(matrixHash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNoPreviousRun
		}
		return nil, "", err
	}

	for name, outcome := range prev.Envs {
		switch outcome.Status {
		case "FAILED", "SKIPPED":
			envs = append(envs, name)
		}
	}
	if len(envs) == 0 {
		return nil, "", ErrNoPreviousRun
	}
	sort.Strings(envs)
	return envs, prev.RunID, nil
}

// Fingerprints returns the per-environment fingerprints recorded by the most
// recent successful observation of each environment for the given matrix.
// Used to seed up-to-date decisions when the result cache is cold.
func Fingerprints(s *Store, matrixHash string) (map[string]string, error) {
	prev, err := s.LatestRun(matrixHash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	out := make(map[string]string, len(prev.Envs))
	for name, outcome := range prev.Envs {
		if outcome.Fingerprint != "" && outcome.ExitCode == 0 {
			out[name] = outcome.Fingerprint
		}
	}
	return out, nil
}
