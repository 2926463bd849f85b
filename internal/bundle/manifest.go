// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bundle reads packaged modules: a directory holding a package.yaml
// manifest and the entry source it names.
package bundle

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/signature"
)

// ManifestFile is the manifest file name inside a bundle directory.
const ManifestFile = "package.yaml"

// maxNameLength bounds bundle names.
const maxNameLength = 64

// namePattern: lowercase letter first, then lowercase letters, digits,
// underscores or hyphens, not ending in a separator.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9_-]*[a-z0-9])?$`)

// Manifest describes a bundle.
type Manifest struct {
	Name         string   `yaml:"name" json:"name" jsonschema:"minLength=1,maxLength=64"`
	Version      string   `yaml:"version" json:"version"`
	Tag          string   `yaml:"tag" json:"tag"`
	Entry        string   `yaml:"entry" json:"entry"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Exports      []string `yaml:"exports,omitempty" json:"exports,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Checksum     string   `yaml:"checksum,omitempty" json:"checksum,omitempty"`
}

// ParseManifest parses and validates package.yaml contents.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, '_', '-', and not end with a separator", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not semantic: %w", m.Version, err)
	}

	if err := loader.ValidateTag(m.Tag); err != nil {
		return fmt.Errorf("tag: %w", err)
	}

	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	if path.IsAbs(m.Entry) || strings.HasPrefix(path.Clean(m.Entry), "..") {
		return fmt.Errorf("entry %q must stay inside the bundle", m.Entry)
	}

	if _, err := m.Signatures(); err != nil {
		return err
	}

	if m.Checksum != "" {
		if _, err := parseChecksum(m.Checksum); err != nil {
			return err
		}
	}
	return nil
}

// Signatures parses the declared exports.
func (m *Manifest) Signatures() ([]*signature.Signature, error) {
	sigs := make([]*signature.Signature, 0, len(m.Exports))
	seen := make(map[string]struct{}, len(m.Exports))
	for i, export := range m.Exports {
		sig, err := signature.Parse(export)
		if err != nil {
			return nil, fmt.Errorf("exports[%d]: %w", i, err)
		}
		if _, dup := seen[sig.Name]; dup {
			return nil, fmt.Errorf("exports[%d]: %s declared twice", i, sig.Name)
		}
		seen[sig.Name] = struct{}{}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
