package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"envmatrix/internal/matrix"
)

// Report is the canonical machine-readable record of a matrix run.
//
// Canonical means byte-stable: environments are sorted by name, field order
// is fixed by the struct, and nothing runtime-dependent (timestamps, paths
// outside the project, durations) appears. Two identical runs produce
// identical report bytes.
type Report struct {
	MatrixHash     string      `json:"matrix_hash"`
	ExecutionOrder []string    `json:"execution_order"`
	Envs           []EnvReport `json:"envs"`
}

// EnvReport is one environment's canonical outcome.
type EnvReport struct {
	Name     string       `json:"name"`
	Status   string       `json:"status"`
	ExitCode int          `json:"exit_code"`
	UpToDate bool         `json:"up_to_date,omitempty"`
	Steps    []StepReport `json:"steps,omitempty"`
}

// StepReport is one executed step's canonical outcome. Captured output is
// excluded from the canonical record; it is runtime-sized and belongs to
// the terminal, not the report.
type StepReport struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Ignored  bool   `json:"ignored,omitempty"`
}

// Build constructs the canonical report from a matrix result.
func Build(res *matrix.Result) *Report {
	r := &Report{
		MatrixHash:     res.MatrixHash.String(),
		ExecutionOrder: append([]string(nil), res.ExecutionOrder...),
	}

	names := make([]string, 0, len(res.FinalState))
	for name := range res.FinalState {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		er := EnvReport{Name: name, Status: string(res.FinalState[name])}
		if envRes := res.Results[name]; envRes != nil {
			er.ExitCode = envRes.ExitCode
			er.UpToDate = envRes.UpToDate
			for _, step := range envRes.Steps {
				er.Steps = append(er.Steps, StepReport{
					Command:  step.Command,
					ExitCode: step.ExitCode,
					Ignored:  step.Ignored,
				})
			}
		}
		r.Envs = append(r.Envs, er)
	}
	return r
}

// CanonicalJSON returns the stable serialized form.
func (r *Report) CanonicalJSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}
	return append(b, '\n'), nil
}

// WriteFile writes the canonical report atomically.
func (r *Report) WriteFile(path string) error {
	data, err := r.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
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
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
