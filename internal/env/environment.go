package env

import "strings"

// Command is a single resolved step of an environment's command list.
type Command struct {
	// Raw is the command string exactly as it will be handed to the shell,
	// after placeholder substitution and with any ignore marker stripped.
	Raw string

	// IgnoreExit marks a command whose non-zero exit is recorded but does
	// not fail the environment. Declared with a leading "-" in the config.
	IgnoreExit bool
}

// ParseCommand interprets a configured command string.
//
// A leading "-" (followed by the command proper) marks the step's exit code
// as ignorable. A literal command starting with "-" can be expressed by
// escaping through the shell ("\-..." is not supported; none of the tools a
// matrix invokes start with a dash).
func ParseCommand(raw string) Command {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "- ") {
		return Command{Raw: strings.TrimSpace(trimmed[2:]), IgnoreExit: true}
	}
	if strings.HasPrefix(trimmed, "-") && len(trimmed) > 1 && trimmed[1] != '-' {
		return Command{Raw: strings.TrimSpace(trimmed[1:]), IgnoreExit: true}
	}
	return Command{Raw: trimmed}
}

// Environment is a fully resolved matrix environment.
//
// Resolution (defaults inheritance, placeholder substitution, variable
// merging) happens in the config layer; by the time an Environment reaches
// the runner every field is literal.
type Environment struct {
	// Name is the environment's identifier within the matrix.
	Name string

	// BasePython is the interpreter label the environment targets. The
	// engine treats it as opaque; it is exported to commands as
	// ENVMATRIX_BASEPYTHON.
	BasePython string

	// Commands is the ordered step list. Never empty for a valid environment.
	Commands []Command

	// SetEnv holds variables explicitly provided to every step.
	SetEnv map[string]string

	// PassEnv lists host variable names allowed through to steps.
	// Everything not named here or in SetEnv is invisible to commands.
	PassEnv []string

	// Inputs is the list of file paths or glob patterns whose contents
	// contribute to the environment's fingerprint.
	Inputs []string
}

// basePythonVar is the variable under which BasePython is exported to steps.
const basePythonVar = "ENVMATRIX_BASEPYTHON"
