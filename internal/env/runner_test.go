package env

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStepRunner_AllowlistEnvironment(t *testing.T) {
	base := map[string]string{
		"ALLOWED": "yes",
		"SECRET":  "leaked",
		"PATH":    os.Getenv("PATH"),
	}
	s := NewStepRunner(t.TempDir(), base)

	e := Environment{
		Name:       "py310",
		BasePython: "python3.10",
		SetEnv:     map[string]string{"EXPLICIT": "set"},
		PassEnv:    []string{"ALLOWED", "PATH"},
	}

	step, err := s.Run(context.Background(), e, 0, Command{Raw: "env"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if step.ExitCode != 0 {
		t.Fatalf("env exited %d: %s", step.ExitCode, step.Stderr)
	}

	out := string(step.Stdout)
	for _, want := range []string{
		"ALLOWED=yes",
		"EXPLICIT=set",
		"ENVMATRIX_ENV=py310",
		"ENVMATRIX_BASEPYTHON=python3.10",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in environment, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "SECRET=") {
		t.Errorf("host variable leaked through allowlist:\n%s", out)
	}
}

func TestStepRunner_SetEnvOverridesPassEnv(t *testing.T) {
	s := NewStepRunner(t.TempDir(), map[string]string{"FOO": "host", "PATH": os.Getenv("PATH")})
	e := Environment{
		Name:    "x",
		SetEnv:  map[string]string{"FOO": "explicit"},
		PassEnv: []string{"FOO", "PATH"},
	}

	step, err := s.Run(context.Background(), e, 0, Command{Raw: "echo \"$FOO\""})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(string(step.Stdout)); got != "explicit" {
		t.Fatalf("setenv did not win: got %q", got)
	}
}

func TestStepRunner_ExitCodePropagation(t *testing.T) {
	s := NewStepRunner(t.TempDir(), map[string]string{"PATH": os.Getenv("PATH")})
	e := Environment{Name: "x", PassEnv: []string{"PATH"}}

	step, err := s.Run(context.Background(), e, 0, Command{Raw: "exit 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if step.ExitCode != 3 {
		t.Fatalf("exit code not propagated: got %d", step.ExitCode)
	}
}

func TestStepRunner_Cancellation(t *testing.T) {
	s := NewStepRunner(t.TempDir(), map[string]string{"PATH": os.Getenv("PATH")})
	e := Environment{Name: "x", PassEnv: []string{"PATH"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx, e, 0, Command{Raw: "sleep 60"}); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func testEnvironment(name string) Environment {
	return Environment{
		Name:    name,
		PassEnv: []string{"PATH"},
	}
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(t.TempDir(), map[string]string{"PATH": os.Getenv("PATH")}, NewMemoryCache(), nil)
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	r := newTestRunner(t)
	e := testEnvironment("py310")
	e.Commands = []Command{
		{Raw: "true"},
		{Raw: "false"},
		{Raw: "echo never"},
	}

	res, err := r.Run(context.Background(), e)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 executed steps, got %d", len(res.Steps))
	}
	if res.ExitCode != 1 {
		t.Fatalf("unexpected exit code %d", res.ExitCode)
	}
}

func TestRunner_IgnoredFailureContinues(t *testing.T) {
	r := newTestRunner(t)
	e := testEnvironment("py310")
	e.Commands = []Command{
		{Raw: "false", IgnoreExit: true},
		{Raw: "echo done"},
	}

	res, err := r.Run(context.Background(), e)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed() {
		t.Fatalf("ignored failure failed the environment: %+v", res)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected both steps to run, got %d", len(res.Steps))
	}
	if !res.Steps[0].Ignored {
		t.Fatal("first step not marked ignored")
	}
}

func TestRunner_FailureIsNeverCached(t *testing.T) {
	r := newTestRunner(t)
	r.Incremental = true
	e := testEnvironment("py310")
	e.Commands = []Command{{Raw: "false"}}

	res, err := r.Run(context.Background(), e)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Failed() {
		t.Fatal("expected failure")
	}

	if _, hit, err := r.Probe(context.Background(), e); err != nil {
		t.Fatalf("Probe: %v", err)
	} else if hit {
		t.Fatal("failed result was cached")
	}
}

func TestRunner_IncrementalReplay(t *testing.T) {
	r := newTestRunner(t)
	r.Incremental = true

	src := filepath.Join(r.Root, "a.py")
	if err := os.WriteFile(src, []byte("print('a')"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := testEnvironment("py310")
	e.Commands = []Command{{Raw: "echo checked"}}
	e.Inputs = []string{"*.py"}

	first, err := r.Run(context.Background(), e)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Failed() {
		t.Fatalf("first run failed: %+v", first)
	}

	replay, hit, err := r.Probe(context.Background(), e)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !hit {
		t.Fatal("expected up-to-date hit after successful run")
	}
	if !replay.UpToDate || replay.Fingerprint != first.Fingerprint {
		t.Fatalf("unexpected replay: %+v", replay)
	}

	// Touching an input invalidates the fingerprint.
	if err := os.WriteFile(src, []byte("print('changed')"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, hit, err := r.Probe(context.Background(), e); err != nil {
		t.Fatalf("Probe: %v", err)
	} else if hit {
		t.Fatal("stale result replayed after input change")
	}
}

func TestRunner_HistoryFingerprintBacksColdCache(t *testing.T) {
	first := newTestRunner(t)
	first.Incremental = true

	e := testEnvironment("py310")
	e.Commands = []Command{{Raw: "echo checked"}}

	res, err := first.Run(context.Background(), e)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed() {
		t.Fatalf("first run failed: %+v", res)
	}

	// A fresh runner with an empty cache but the prior fingerprint on record
	// must still report up to date, without step output.
	cold := NewRunner(first.Root, map[string]string{"PATH": os.Getenv("PATH")}, NewMemoryCache(), nil)
	cold.Incremental = true
	cold.Known = map[string]Fingerprint{"py310": res.Fingerprint}

	replay, hit, err := cold.Probe(context.Background(), e)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !hit {
		t.Fatal("known fingerprint did not back the cold cache")
	}
	if !replay.UpToDate || replay.Fingerprint != res.Fingerprint {
		t.Fatalf("unexpected replay: %+v", replay)
	}
	if len(replay.Steps) != 0 {
		t.Fatalf("history-backed replay carries steps: %+v", replay.Steps)
	}

	// A stale fingerprint never counts.
	cold.Known["py310"] = "different"
	if _, hit, err := cold.Probe(context.Background(), e); err != nil {
		t.Fatalf("Probe: %v", err)
	} else if hit {
		t.Fatal("stale known fingerprint reported up to date")
	}
}

func TestRunner_ProbeDisabledWithoutIncremental(t *testing.T) {
	r := newTestRunner(t)
	e := testEnvironment("py310")
	e.Commands = []Command{{Raw: "true"}}

	if _, err := r.Run(context.Background(), e); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, hit, err := r.Probe(context.Background(), e); err != nil {
		t.Fatalf("Probe: %v", err)
	} else if hit {
		t.Fatal("probe hit without incremental mode")
	}
}
