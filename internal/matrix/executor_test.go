package matrix

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"envmatrix/internal/env"
)

// fakeRunner scripts per-environment outcomes without touching a shell.
type fakeRunner struct {
	mu       sync.Mutex
	exitCode map[string]int
	upToDate map[string]bool
	ran      []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		exitCode: make(map[string]int),
		upToDate: make(map[string]bool),
	}
}

func (f *fakeRunner) Probe(ctx context.Context, e env.Environment) (*env.Result, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upToDate[e.Name] {
		return &env.Result{Name: e.Name, UpToDate: true}, true, nil
	}
	return nil, false, nil
}

func (f *fakeRunner) Run(ctx context.Context, e env.Environment) (*env.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, e.Name)
	return &env.Result{Name: e.Name, ExitCode: f.exitCode[e.Name]}, nil
}

func (f *fakeRunner) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func TestExecutor_SerialDeterministicOrder(t *testing.T) {
	g, err := NewGraph(testEnvs("py38", "py39", "py310"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := newFakeRunner()
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("RunSerial: %v", err)
	}

	want := []string{"py310", "py38", "py39"}
	if !reflect.DeepEqual(res.ExecutionOrder, want) {
		t.Fatalf("execution order mismatch: got %v want %v", res.ExecutionOrder, want)
	}
	for name, st := range res.FinalState {
		if st != EnvPassed {
			t.Errorf("%s = %s, want PASSED", name, st)
		}
	}
	if res.Failed() {
		t.Fatal("successful matrix reported as failed")
	}
}

func TestExecutor_SerialFailureSkipsDependents(t *testing.T) {
	g, err := NewGraph(testEnvs("lint", "unit", "integration", "docs"), []Edge{
		{From: "lint", To: "unit"},
		{From: "unit", To: "integration"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := newFakeRunner()
	runner.exitCode["lint"] = 1
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("RunSerial: %v", err)
	}

	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if got := res.FailedEnvs(); !reflect.DeepEqual(got, []string{"lint"}) {
		t.Fatalf("failed envs: %v", got)
	}
	if got := res.SkippedEnvs(); !reflect.DeepEqual(got, []string{"integration", "unit"}) {
		t.Fatalf("skipped envs: %v", got)
	}
	if res.FinalState["docs"] != EnvPassed {
		t.Fatalf("independent environment did not run: %s", res.FinalState["docs"])
	}

	// Neither skipped environment may have executed.
	for _, name := range runner.executed() {
		if name == "unit" || name == "integration" {
			t.Fatalf("skipped environment executed: %s", name)
		}
	}
}

func TestExecutor_SerialUpToDateReplay(t *testing.T) {
	g, err := NewGraph(testEnvs("a", "b"), []Edge{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := newFakeRunner()
	runner.upToDate["a"] = true
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("RunSerial: %v", err)
	}

	if res.FinalState["a"] != EnvUpToDate {
		t.Fatalf("a = %s, want UPTODATE", res.FinalState["a"])
	}
	if res.FinalState["b"] != EnvPassed {
		t.Fatalf("b = %s, want PASSED", res.FinalState["b"])
	}
	// a was replayed, never started.
	if !reflect.DeepEqual(res.ExecutionOrder, []string{"b"}) {
		t.Fatalf("execution order: %v", res.ExecutionOrder)
	}
	if res.Results["a"] == nil || !res.Results["a"].UpToDate {
		t.Fatal("replayed result missing")
	}
}

func TestExecutor_ParallelMatchesSerialOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	g, err := NewGraph(testEnvs("a", "b", "c", "d", "e"), []Edge{
		{From: "a", To: "c"},
		{From: "b", To: "c"},
		{From: "c", To: "d"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := newFakeRunner()
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	res, err := exec.RunParallel(context.Background(), 4)
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}

	for name, st := range res.FinalState {
		if st != EnvPassed {
			t.Errorf("%s = %s, want PASSED", name, st)
		}
	}
	if len(res.ExecutionOrder) != 5 {
		t.Fatalf("execution order incomplete: %v", res.ExecutionOrder)
	}
}

func TestExecutor_ParallelFailureSkipsDeeperDependents(t *testing.T) {
	defer goleak.VerifyNone(t)

	g, err := NewGraph(testEnvs("a", "b", "c"), []Edge{
		{From: "a", To: "b"},
		{From: "b", To: "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := newFakeRunner()
	runner.exitCode["a"] = 2
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	res, err := exec.RunParallel(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}

	if got := res.FailedEnvs(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("failed envs: %v", got)
	}
	if got := res.SkippedEnvs(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("skipped envs: %v", got)
	}
	if got := runner.executed(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("executed: %v", got)
	}
}

func TestExecutor_ParallelRejectsZeroConcurrency(t *testing.T) {
	g, err := NewGraph(testEnvs("a"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exec, err := NewExecutor(g, newFakeRunner())
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if _, err := exec.RunParallel(context.Background(), 0); err == nil {
		t.Fatal("accepted zero concurrency")
	}
}
