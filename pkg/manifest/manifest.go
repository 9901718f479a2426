// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manifest reads and writes the project manifest, pkg.jsonc.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"

	"github.com/tailscale/hujson"
	"github.com/yeetrun/mpkg/pkg/fileutil"
	"tailscale.com/util/mak"
)

const (
	// FileName is the manifest file name at the project root.
	FileName = "pkg.jsonc"
	// DefaultVersion is the version given to newly created manifests.
	DefaultVersion = "0.1.0"
	// DefaultProjectName names the project when a manifest has to be
	// synthesized during install.
	DefaultProjectName = "my_project"
	// Latest is the only constraint the client writes.
	Latest = "latest"
)

var (
	// ErrMalformed is returned when the manifest cannot be parsed.
	ErrMalformed = errors.New("malformed manifest")
	// ErrEmptyKey is returned when adding a dependency with an empty name.
	ErrEmptyKey = errors.New("empty dependency key")
)

// Manifest is a project's identity and declared dependencies.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Default returns a fresh manifest for the named project.
func Default(name string) *Manifest {
	return &Manifest{
		Name:         name,
		Version:      DefaultVersion,
		Dependencies: map[string]string{},
	}
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Dependencies = maps.Clone(m.Dependencies)
	if c.Dependencies == nil {
		c.Dependencies = map[string]string{}
	}
	return &c
}

// AddDependency records key as a dependency pinned to "latest", overwriting
// any earlier constraint.
func (m *Manifest) AddDependency(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	mak.Set(&m.Dependencies, key, Latest)
	return nil
}

// AddDependency returns a copy of m with key added.
func AddDependency(m *Manifest, key string) (*Manifest, error) {
	c := m.Clone()
	if err := c.AddDependency(key); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes a manifest. Comments and trailing commas are accepted.
func Parse(b []byte) (*Manifest, error) {
	std, err := hujson.Standardize(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(std))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrMalformed)
	}
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	return &m, nil
}

// Marshal encodes m the way it is stored on disk: two-space indentation and
// a trailing newline.
func Marshal(m *Manifest) ([]byte, error) {
	out := m
	if m.Dependencies == nil {
		out = m.Clone()
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Load reads the manifest at path. A missing file is not an error: the
// default manifest for defaultName is returned instead.
func Load(path, defaultName string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(defaultName), nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save writes m to path, replacing the file atomically.
func Save(m *Manifest, path string) error {
	b, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Create writes m to path only when nothing exists there yet. It reports
// whether the file was created.
func Create(m *Manifest, path string) (bool, error) {
	ok, err := fileutil.Exists(path)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := Save(m, path); err != nil {
		return false, err
	}
	return true, nil
}
