// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yeetrun/mpkg/pkg/archive"
)

// DefaultArchiveName is the output used when package is given no name:
// the base name of src with ".zip" appended.
func DefaultArchiveName(src string) string {
	return filepath.Base(filepath.Clean(src)) + ".zip"
}

// Package zips src into out and returns the path written. Relative paths
// resolve against the project directory.
func (a *App) Package(src, out string) (string, error) {
	if out == "" {
		out = DefaultArchiveName(src)
	}
	src, out = a.abs(src), a.abs(out)
	if err := archive.CreateFile(src, out); err != nil {
		return "", fmt.Errorf("failed to package %s: %w", a.rel(src), err)
	}
	st, err := os.Stat(out)
	if err != nil {
		return "", err
	}
	a.success("Packaged %s into %s (%d bytes)", a.rel(src), a.rel(out), st.Size())
	return out, nil
}

func (a *App) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.Dir, p)
}
