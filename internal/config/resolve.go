package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"envmatrix/internal/env"
	"envmatrix/internal/matrix"
)

// Resolved is the outcome of resolving a File: the environments in
// deterministic name order, the dependency edges, and the default selection.
type Resolved struct {
	Envs    []env.Environment
	Edges   []matrix.Edge
	Default []string
}

// Env returns the resolved environment by name.
func (r *Resolved) Env(name string) (env.Environment, bool) {
	for _, e := range r.Envs {
		if e.Name == name {
			return e, true
		}
	}
	return env.Environment{}, false
}

// Resolver turns a validated File into concrete environments.
type Resolver struct {
	// Root is the project root; it backs the {rootdir} placeholder.
	Root string

	// PosArgs are the CLI arguments after "--"; they back {posargs}.
	PosArgs []string
}

// placeholderRe matches any identifier-shaped placeholder, not just the known
// names, so a typo like {POSARGS} or {py3} is caught at resolution instead of
// reaching the shell as literal braces.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Resolve applies defaults inheritance, variable merging, and placeholder
// substitution to every declared environment.
//
// Guarantee: every returned Environment has a non-empty, fully literal
// command list, so "each listed environment resolves to a consistent command
// list" holds before anything executes.
func (r *Resolver) Resolve(f *File) (*Resolved, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	out := &Resolved{Default: append([]string(nil), f.EnvList...)}

	for _, name := range f.EnvNames() {
		section := f.Environments[name]
		resolved, err := r.resolveEnv(f, name, section)
		if err != nil {
			return nil, err
		}
		out.Envs = append(out.Envs, resolved)

		deps := append([]string(nil), section.Depends...)
		sort.Strings(deps)
		for _, dep := range deps {
			out.Edges = append(out.Edges, matrix.Edge{From: dep, To: name})
		}
	}

	return out, nil
}

func (r *Resolver) resolveEnv(f *File, name string, s Section) (env.Environment, error) {
	basepython := s.BasePython
	if basepython == "" {
		basepython = f.Defaults.BasePython
	}

	commands := s.Commands
	if len(commands) == 0 {
		commands = f.Defaults.Commands
	}

	inputs := s.Inputs
	if len(inputs) == 0 {
		inputs = f.Defaults.Inputs
	}

	setenv := make(map[string]string, len(f.Defaults.SetEnv)+len(s.SetEnv))
	for k, v := range f.Defaults.SetEnv {
		setenv[k] = v
	}
	for k, v := range s.SetEnv {
		setenv[k] = v
	}

	passenv := unionSorted(f.Defaults.PassEnv, s.PassEnv)

	vars := map[string]string{
		"envname":    name,
		"rootdir":    r.Root,
		"basepython": basepython,
		"posargs":    strings.Join(r.PosArgs, " "),
	}

	parsed := make([]env.Command, 0, len(commands))
	for i, raw := range commands {
		expanded, err := expand(raw, vars)
		if err != nil {
			return env.Environment{}, resolveErrf(name, "command %d: %v", i, err)
		}
		cmd := env.ParseCommand(expanded)
		if cmd.Raw == "" {
			return env.Environment{}, resolveErrf(name, "command %d is empty after substitution", i)
		}
		parsed = append(parsed, cmd)
	}

	for k, v := range setenv {
		expanded, err := expand(v, vars)
		if err != nil {
			return env.Environment{}, resolveErrf(name, "setenv %s: %v", k, err)
		}
		setenv[k] = expanded
	}

	return env.Environment{
		Name:       name,
		BasePython: basepython,
		Commands:   parsed,
		SetEnv:     setenv,
		PassEnv:    passenv,
		Inputs:     append([]string(nil), inputs...),
	}, nil
}

// expand substitutes {envname}, {rootdir}, {basepython} and {posargs}.
// Unknown placeholders are an error rather than passing through to the
// shell, where they would fail in a far less obvious way.
func expand(s string, vars map[string]string) (string, error) {
	var badKey string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := vars[key]
		if !ok {
			if badKey == "" {
				badKey = key
			}
			return m
		}
		return v
	})
	if badKey != "" {
		return "", fmt.Errorf("unknown placeholder {%s}", badKey)
	}
	return strings.TrimSpace(out), nil
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CIEnvs maps a CI matrix label to environment names for the given provider.
func CIEnvs(f *File, provider, label string) ([]string, error) {
	providerMap, ok := f.CI[provider]
	if !ok {
		known := make([]string, 0, len(f.CI))
		for p := range f.CI {
			known = append(known, p)
		}
		sort.Strings(known)
		return nil, resolveErrf("", "unknown CI provider %q (declared: %s)", provider, strings.Join(known, ", "))
	}
	envs, ok := providerMap[label]
	if !ok {
		return nil, resolveErrf("", "no environments mapped to CI label %q for provider %q", label, provider)
	}
	return append([]string(nil), envs...), nil
}
