// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package bundle

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
)

// ChecksumPrefix names the only supported checksum algorithm.
const ChecksumPrefix = "blake2b-256:"

// Bundle is an opened, verified package directory.
type Bundle struct {
	Dir      string
	Manifest *Manifest
	// EntryPath is the absolute path of the entry source.
	EntryPath string
	// Source is the entry file contents.
	Source []byte
}

// Open reads dir/package.yaml, validates it, reads the entry source and
// verifies its checksum when one is declared.
func Open(dir string) (*Bundle, error) {
	errb := oops.In("bundle").With("dir", dir)

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	raw, err := os.ReadFile(filepath.Join(abs, ManifestFile))
	if err != nil {
		return nil, errb.Hint("a bundle directory must contain " + ManifestFile).Wrap(err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, errb.Hint(FormatSchemaError(err)).Wrap(err)
	}
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	entry := filepath.Join(abs, filepath.FromSlash(m.Entry))
	src, err := os.ReadFile(entry)
	if err != nil {
		return nil, errb.With("entry", m.Entry).Wrap(err)
	}

	if m.Checksum != "" {
		want, _ := parseChecksum(m.Checksum)
		if got := sum(src); !strings.EqualFold(got, want) {
			return nil, errb.
				With("entry", m.Entry).
				With("want", want).
				With("got", got).
				Errorf("entry checksum mismatch")
		}
	}

	return &Bundle{Dir: abs, Manifest: m, EntryPath: entry, Source: src}, nil
}

// Checksum returns the manifest checksum string for data.
func Checksum(data []byte) string {
	return ChecksumPrefix + sum(data)
}

func sum(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

func parseChecksum(s string) (string, error) {
	digest, ok := strings.CutPrefix(s, ChecksumPrefix)
	if !ok {
		return "", fmt.Errorf("checksum %q must start with %q", s, ChecksumPrefix)
	}
	if b, err := hex.DecodeString(digest); err != nil || len(b) != blake2b.Size256 {
		return "", fmt.Errorf("checksum %q is not a 256-bit hex digest", s)
	}
	return digest, nil
}
