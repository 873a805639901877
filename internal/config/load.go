package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the config file at path.
//
// Unknown fields are rejected so a typo in a section name fails loudly
// instead of silently running the wrong command list.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schemaErrf(path, err, "reading config: %v", err)
	}
	return Parse(path, data)
}

// Parse parses config bytes. The path is used for error reporting only.
func Parse(path string, data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, schemaErrf(path, err, "config is empty")
		}
		return nil, schemaErrf(path, err, "parsing config: %v", err)
	}

	// Reject trailing documents; the config is a single-document file.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, schemaErrf(path, nil, "config must be a single YAML document")
	}

	return &f, nil
}

// HostEnv captures the process environment, optionally overlaid with a .env
// file at root. The snapshot backs passenv resolution for every step.
//
// The .env file is additive only: a variable present in both the process
// environment and the file keeps the process value, matching the usual
// dotenv convention of not clobbering the real environment.
func HostEnv(root string) (map[string]string, error) {
	snapshot := make(map[string]string)

	dotenvPath := filepath.Join(root, ".env")
	if _, err := os.Stat(dotenvPath); err == nil {
		fromFile, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, schemaErrf(dotenvPath, err, "parsing .env: %v", err)
		}
		for k, v := range fromFile {
			snapshot[k] = v
		}
	}

	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				snapshot[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return snapshot, nil
}

// EnvNames returns the sorted environment names declared in the file.
func (f *File) EnvNames() []string {
	names := make([]string, 0, len(f.Environments))
	for name := range f.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
