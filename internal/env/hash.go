package env

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint is the deterministic identity of an environment execution.
//
// Two runs with equal fingerprints would invoke the same commands with the
// same visible variables over the same input contents, so a prior successful
// result can stand in for re-execution.
type Fingerprint string

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Hasher computes environment fingerprints.
//
// The computation is content-based and fully ordered: every component is
// sorted and length-prefixed before hashing so that map iteration order,
// filesystem ordering, and field concatenation ambiguity cannot leak in.
type Hasher struct{}

// NewHasher creates a Hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// FingerprintInput bundles everything that contributes to identity.
type FingerprintInput struct {
	// Root is the project root the environment runs in.
	Root string

	// Environment is the resolved environment definition.
	Environment Environment

	// Inputs is the resolved input set (already sorted by the resolver).
	Inputs *InputSet
}

// Fingerprint computes the SHA-256 fingerprint of the given input.
//
// Component order: root, name, basepython, commands (ordered, with ignore
// flag), sorted setenv pairs, sorted passenv names, then each input's path
// and content. All fields are length-prefixed.
func (h *Hasher) Fingerprint(in FingerprintInput) Fingerprint {
	hasher := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		hasher.Write([]byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		})
		hasher.Write(data)
	}

	e := in.Environment

	writeField([]byte(in.Root))
	writeField([]byte(e.Name))
	writeField([]byte(e.BasePython))

	writeField([]byte{byte(len(e.Commands))})
	for _, c := range e.Commands {
		writeField([]byte(c.Raw))
		if c.IgnoreExit {
			writeField([]byte{1})
		} else {
			writeField([]byte{0})
		}
	}

	keys := make([]string, 0, len(e.SetEnv))
	for k := range e.SetEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeField([]byte{byte(len(keys))})
	for _, k := range keys {
		writeField([]byte(k))
		writeField([]byte(e.SetEnv[k]))
	}

	passenv := make([]string, len(e.PassEnv))
	copy(passenv, e.PassEnv)
	sort.Strings(passenv)
	writeField([]byte{byte(len(passenv))})
	for _, name := range passenv {
		writeField([]byte(name))
	}

	inputCount := 0
	if in.Inputs != nil {
		inputCount = len(in.Inputs.Inputs)
	}
	writeField([]byte{byte(inputCount)})
	if in.Inputs != nil {
		for _, input := range in.Inputs.Inputs {
			writeField([]byte(input.Path))
			writeField(input.Content)
		}
	}

	return Fingerprint(hex.EncodeToString(hasher.Sum(nil)))
}
