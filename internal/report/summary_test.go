package report

import (
	"strings"
	"testing"

	"envmatrix/internal/env"
	"envmatrix/internal/matrix"
)

func TestSummary_PlainLines(t *testing.T) {
	res := sampleResult()
	out := Summary(res, []string{"lint", "py310", "unit"}, SummaryOptions{Plain: true})

	for _, want := range []string{
		"✖ lint: FAILED",
		"✔ py310: PASSED",
		"↷ unit: SKIPPED",
		"evaluation failed :( (lint)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in summary:\n%s", want, out)
		}
	}

	// The failing command is named on the failure line.
	if !strings.Contains(out, "flake8") {
		t.Errorf("failing command not named:\n%s", out)
	}
}

func TestSummary_SuccessVerdict(t *testing.T) {
	res := &matrix.Result{
		MatrixHash: "beef",
		FinalState: matrix.ExecutionState{"py310": matrix.EnvPassed},
		Results: map[string]*env.Result{
			"py310": {Name: "py310", Steps: []env.StepResult{{Command: "flake8"}}},
		},
	}

	out := Summary(res, []string{"py310"}, SummaryOptions{Plain: true})
	if !strings.Contains(out, "congratulations :) all environments passed") {
		t.Fatalf("missing success verdict:\n%s", out)
	}
}

func TestSummary_UpToDate(t *testing.T) {
	res := &matrix.Result{
		MatrixHash: "beef",
		FinalState: matrix.ExecutionState{"py310": matrix.EnvUpToDate},
		Results: map[string]*env.Result{
			"py310": {Name: "py310", UpToDate: true},
		},
	}

	out := Summary(res, []string{"py310"}, SummaryOptions{Plain: true})
	if !strings.Contains(out, "≡ py310: UPTODATE - up to date") {
		t.Fatalf("missing up-to-date line:\n%s", out)
	}
}

func TestSummary_FallsBackToSortedNames(t *testing.T) {
	res := sampleResult()
	out := Summary(res, nil, SummaryOptions{Plain: true})

	lintAt := strings.Index(out, "lint")
	py310At := strings.Index(out, "py310")
	unitAt := strings.Index(out, "unit")
	if lintAt < 0 || py310At < 0 || unitAt < 0 {
		t.Fatalf("environments missing:\n%s", out)
	}
	if !(lintAt < py310At && py310At < unitAt) {
		t.Fatalf("environments not sorted:\n%s", out)
	}
}

func TestFailureDetail_IncludesCapturedStreams(t *testing.T) {
	out := FailureDetail(sampleResult(), SummaryOptions{Plain: true})

	if !strings.Contains(out, `lint: "flake8" exited 1`) {
		t.Errorf("missing failure header:\n%s", out)
	}
	if !strings.Contains(out, "E501") {
		t.Errorf("missing captured stderr:\n%s", out)
	}
}

func TestFailureDetail_EmptyOnSuccess(t *testing.T) {
	res := &matrix.Result{
		MatrixHash: "beef",
		FinalState: matrix.ExecutionState{"py310": matrix.EnvPassed},
		Results:    map[string]*env.Result{"py310": {Name: "py310"}},
	}
	if out := FailureDetail(res, SummaryOptions{Plain: true}); out != "" {
		t.Fatalf("unexpected detail: %q", out)
	}
}
