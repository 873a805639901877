package matrix

import (
	"reflect"
	"testing"
)

func TestReadyEnvs_SortedByDepthThenName(t *testing.T) {
	g, err := NewGraph(testEnvs("a", "b", "c", "d"), []Edge{
		{From: "a", To: "c"},
		{From: "b", To: "d"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a and b passed, so c and d become ready. Both are depth 1, lexical order.
	state := ExecutionState{
		"a": EnvPassed,
		"b": EnvPassed,
		"c": EnvPending,
		"d": EnvPending,
	}

	got := ReadyEnvs(g, state)
	want := []string{"c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ready list mismatch: got %v want %v", got, want)
	}
}

func TestReadyEnvs_RootsLexicalOrder(t *testing.T) {
	g, err := NewGraph(testEnvs("py39", "py310", "py38"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ExecutionState{
		"py38":  EnvPending,
		"py39":  EnvPending,
		"py310": EnvPending,
	}

	got := ReadyEnvs(g, state)
	want := []string{"py310", "py38", "py39"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ready list mismatch: got %v want %v", got, want)
	}
}

func TestReadyEnvs_BlockedByUnfinishedDependency(t *testing.T) {
	g, err := NewGraph(testEnvs("a", "b"), []Edge{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ExecutionState{"a": EnvRunning, "b": EnvPending}
	if got := ReadyEnvs(g, state); len(got) != 0 {
		t.Fatalf("dependent ready behind running dependency: %v", got)
	}
}

func TestReadyEnvs_UpToDateSatisfiesDependents(t *testing.T) {
	g, err := NewGraph(testEnvs("a", "b"), []Edge{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ExecutionState{"a": EnvUpToDate, "b": EnvPending}
	got := ReadyEnvs(g, state)
	want := []string{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("up-to-date dependency did not satisfy dependent: %v", got)
	}
}

func TestReadyEnvs_FailedDependencyNeverSatisfies(t *testing.T) {
	g, err := NewGraph(testEnvs("a", "b"), []Edge{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ExecutionState{"a": EnvFailed, "b": EnvPending}
	if got := ReadyEnvs(g, state); len(got) != 0 {
		t.Fatalf("dependent ready behind failed dependency: %v", got)
	}
}

func TestReadyEnvs_PureFunction(t *testing.T) {
	g, err := NewGraph(testEnvs("a", "b"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ExecutionState{"a": EnvPending, "b": EnvPending}
	_ = ReadyEnvs(g, state)

	if state["a"] != EnvPending || state["b"] != EnvPending {
		t.Fatal("scheduler mutated state")
	}
}
