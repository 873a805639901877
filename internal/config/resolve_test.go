package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envmatrix/internal/matrix"
)

const matrixConfig = `envlist: [py38, py310]

defaults:
  passenv: [HOME, PATH]
  setenv:
    SHARED: default-value
    OVERRIDDEN: default-value
  inputs: ["src/**.py"]
  commands:
    - black --check .
    - coverage run -m pytest {posargs}

environments:
  py38:
    basepython: python3.8
  py310:
    basepython: python3.10
    passenv: [LANG]
    setenv:
      OVERRIDDEN: env-value
    commands:
      - flake8 {envname}
  integration:
    basepython: python3.10
    depends: [py310]
    commands:
      - pytest tests/integration

ci:
  github:
    "3.8": [py38]
    "3.10": [py310]
`

func resolveTestFile(t *testing.T) *File {
	t.Helper()
	f, err := Parse("test.yaml", []byte(matrixConfig))
	require.NoError(t, err)
	return f
}

func TestResolve_DefaultsInheritance(t *testing.T) {
	r := &Resolver{Root: "/project"}
	resolved, err := r.Resolve(resolveTestFile(t))
	require.NoError(t, err)

	py38, ok := resolved.Env("py38")
	require.True(t, ok)
	assert.Equal(t, "python3.8", py38.BasePython)
	require.Len(t, py38.Commands, 2)
	assert.Equal(t, "black --check .", py38.Commands[0].Raw)
	assert.Equal(t, []string{"src/**.py"}, py38.Inputs)
	assert.Equal(t, "default-value", py38.SetEnv["SHARED"])
	assert.Equal(t, []string{"HOME", "PATH"}, py38.PassEnv)
}

func TestResolve_EnvironmentOverrides(t *testing.T) {
	r := &Resolver{Root: "/project"}
	resolved, err := r.Resolve(resolveTestFile(t))
	require.NoError(t, err)

	py310, ok := resolved.Env("py310")
	require.True(t, ok)

	// Own commands replace defaults entirely; {envname} is substituted.
	require.Len(t, py310.Commands, 1)
	assert.Equal(t, "flake8 py310", py310.Commands[0].Raw)

	// setenv merges key by key with the environment winning.
	assert.Equal(t, "env-value", py310.SetEnv["OVERRIDDEN"])
	assert.Equal(t, "default-value", py310.SetEnv["SHARED"])

	// passenv is the sorted union.
	assert.Equal(t, []string{"HOME", "LANG", "PATH"}, py310.PassEnv)
}

func TestResolve_Placeholders(t *testing.T) {
	f, err := Parse("test.yaml", []byte(`envlist: [py310]
environments:
  py310:
    basepython: python3.10
    commands:
      - "echo {envname} {basepython} {rootdir}"
      - coverage run -m pytest {posargs}
`))
	require.NoError(t, err)

	r := &Resolver{Root: "/project", PosArgs: []string{"-k", "test_fast"}}
	resolved, err := r.Resolve(f)
	require.NoError(t, err)

	e, ok := resolved.Env("py310")
	require.True(t, ok)
	assert.Equal(t, "echo py310 python3.10 /project", e.Commands[0].Raw)
	assert.Equal(t, "coverage run -m pytest -k test_fast", e.Commands[1].Raw)
}

func TestResolve_EmptyPosArgsCollapse(t *testing.T) {
	f, err := Parse("test.yaml", []byte(`envlist: [py310]
environments:
  py310:
    commands:
      - coverage run -m pytest {posargs}
`))
	require.NoError(t, err)

	resolved, err := (&Resolver{Root: "/project"}).Resolve(f)
	require.NoError(t, err)

	e, _ := resolved.Env("py310")
	assert.Equal(t, "coverage run -m pytest", e.Commands[0].Raw)
}

func TestResolve_UnknownPlaceholderIsError(t *testing.T) {
	f, err := Parse("test.yaml", []byte(`envlist: [py310]
environments:
  py310:
    commands:
      - "echo {mystery}"
`))
	require.NoError(t, err)

	_, err = (&Resolver{Root: "/project"}).Resolve(f)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "{mystery}")
}

func TestResolve_PlaceholderCaseTypos(t *testing.T) {
	// Identifier-shaped placeholders are checked regardless of case or
	// digits; none of these may slip through to the shell.
	for _, bad := range []string{"{POSARGS}", "{Rootdir}", "{py3}"} {
		f, err := Parse("test.yaml", []byte(`envlist: [py310]
environments:
  py310:
    commands:
      - "echo `+bad+`"
`))
		require.NoError(t, err)

		_, err = (&Resolver{Root: "/project"}).Resolve(f)
		require.Error(t, err, "placeholder %s accepted", bad)
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), bad)
	}
}

func TestResolve_IgnoreMarker(t *testing.T) {
	f, err := Parse("test.yaml", []byte(`envlist: [py310]
environments:
  py310:
    commands:
      - "- coverage report"
      - flake8
`))
	require.NoError(t, err)

	resolved, err := (&Resolver{Root: "/project"}).Resolve(f)
	require.NoError(t, err)

	e, _ := resolved.Env("py310")
	assert.True(t, e.Commands[0].IgnoreExit)
	assert.Equal(t, "coverage report", e.Commands[0].Raw)
	assert.False(t, e.Commands[1].IgnoreExit)
}

func TestResolve_DependsEdges(t *testing.T) {
	r := &Resolver{Root: "/project"}
	resolved, err := r.Resolve(resolveTestFile(t))
	require.NoError(t, err)

	assert.Contains(t, resolved.Edges, matrix.Edge{From: "py310", To: "integration"})
}

func TestResolve_SetEnvSubstitution(t *testing.T) {
	f, err := Parse("test.yaml", []byte(`envlist: [py310]
environments:
  py310:
    setenv:
      COVERAGE_FILE: "{rootdir}/.coverage.{envname}"
    commands: [flake8]
`))
	require.NoError(t, err)

	resolved, err := (&Resolver{Root: "/project"}).Resolve(f)
	require.NoError(t, err)

	e, _ := resolved.Env("py310")
	assert.Equal(t, "/project/.coverage.py310", e.SetEnv["COVERAGE_FILE"])
}

func TestResolve_EveryEnvHasCommands(t *testing.T) {
	resolved, err := (&Resolver{Root: "/project"}).Resolve(resolveTestFile(t))
	require.NoError(t, err)

	for _, e := range resolved.Envs {
		assert.NotEmpty(t, e.Commands, "environment %s has no commands", e.Name)
		for _, c := range e.Commands {
			assert.NotEmpty(t, c.Raw)
		}
	}
}

func TestCIEnvs(t *testing.T) {
	f := resolveTestFile(t)

	envs, err := CIEnvs(f, "github", "3.10")
	require.NoError(t, err)
	assert.Equal(t, []string{"py310"}, envs)

	_, err = CIEnvs(f, "github", "3.11")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	_, err = CIEnvs(f, "gitlab", "3.10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github")
}
