// Package config defines the envmatrix configuration schema and turns a
// parsed file into fully resolved environments.
//
// The configuration is the tool's entire externally visible surface: an
// ordered default environment list, per-environment sections (command list,
// variables, interpreter label, inter-environment ordering), shared defaults,
// and a CI-label-to-environment mapping. Resolution guarantees that every
// declared environment maps to one consistent, non-empty command list before
// anything executes.
package config

import (
	"errors"
	"fmt"
)

// DefaultFileName is the config file looked up at the project root.
const DefaultFileName = "envmatrix.yaml"

// File is the top-level configuration document.
type File struct {
	// EnvList is the ordered default selection of environments to run.
	EnvList []string `yaml:"envlist"`

	// Defaults is inherited by every environment.
	Defaults Section `yaml:"defaults"`

	// Environments declares the matrix, keyed by environment name.
	Environments map[string]Section `yaml:"environments"`

	// CI maps provider name -> matrix label -> environment names.
	CI map[string]map[string][]string `yaml:"ci"`
}

// Section is a defaults block or a single environment block.
type Section struct {
	// BasePython is the interpreter label the environment targets.
	BasePython string `yaml:"basepython"`

	// Commands is the ordered command list. An environment without its own
	// commands inherits defaults.commands.
	Commands []string `yaml:"commands"`

	// SetEnv declares variables visible to every command. Environment
	// entries override defaults entries key by key.
	SetEnv map[string]string `yaml:"setenv"`

	// PassEnv names host variables allowed through. The effective allowlist
	// is the union of defaults and the environment.
	PassEnv []string `yaml:"passenv"`

	// Inputs lists file paths or glob patterns fingerprinted for up-to-date
	// detection. An environment without its own inputs inherits
	// defaults.inputs.
	Inputs []string `yaml:"inputs"`

	// Depends names environments that must pass before this one runs.
	Depends []string `yaml:"depends"`
}

// SchemaError reports a config document that could not be parsed or violates
// the schema's shape.
type SchemaError struct {
	Path string
	Msg  string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %s", e.Path, e.Msg)
	}
	return "config: " + e.Msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ResolveError reports a structurally parsed config that cannot be resolved
// into a consistent matrix (unknown names, empty command lists, bad
// placeholders).
type ResolveError struct {
	Env string
	Msg string
}

func (e *ResolveError) Error() string {
	if e.Env != "" {
		return fmt.Sprintf("environment %q: %s", e.Env, e.Msg)
	}
	return e.Msg
}

func schemaErrf(path string, err error, format string, args ...any) error {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

func resolveErrf(envName, format string, args ...any) error {
	return &ResolveError{Env: envName, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a configuration-level failure
// (schema or resolution), as opposed to an execution or internal failure.
func IsConfigError(err error) bool {
	var se *SchemaError
	var re *ResolveError
	return errors.As(err, &se) || errors.As(err, &re)
}
