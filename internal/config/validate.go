package config

// Validate checks the structural consistency of a parsed File.
//
// It rejects:
//   - no declared environments
//   - an empty envlist, or envlist entries naming unknown environments
//   - depends targets naming unknown environments or the environment itself
//   - environments whose effective command list is empty
//   - CI mappings targeting unknown environments
//
// Cycles across depends are left to the matrix graph, which extracts a
// deterministic cycle witness for the error message.
func Validate(f *File) error {
	if f == nil {
		return schemaErrf("", nil, "config is nil")
	}
	if len(f.Environments) == 0 {
		return schemaErrf("", nil, "no environments declared")
	}
	if len(f.EnvList) == 0 {
		return schemaErrf("", nil, "envlist must list at least one environment")
	}

	for _, name := range f.EnvList {
		if _, ok := f.Environments[name]; !ok {
			return resolveErrf("", "envlist references unknown environment %q", name)
		}
	}

	for _, name := range f.EnvNames() {
		section := f.Environments[name]

		if len(section.Commands) == 0 && len(f.Defaults.Commands) == 0 {
			return resolveErrf(name, "resolves to an empty command list (no commands and no defaults.commands)")
		}

		for _, dep := range section.Depends {
			if dep == name {
				return resolveErrf(name, "depends on itself")
			}
			if _, ok := f.Environments[dep]; !ok {
				return resolveErrf(name, "depends on unknown environment %q", dep)
			}
		}
	}

	for provider, labels := range f.CI {
		for label, envs := range labels {
			if len(envs) == 0 {
				return resolveErrf("", "ci.%s label %q maps to no environments", provider, label)
			}
			for _, name := range envs {
				if _, ok := f.Environments[name]; !ok {
					return resolveErrf("", "ci.%s label %q references unknown environment %q", provider, label, name)
				}
			}
		}
	}

	return nil
}
