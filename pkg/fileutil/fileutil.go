// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fileutil holds small filesystem helpers shared by the client and
// the registry.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// WriteFile atomically replaces path with data. Readers observe either the
// old content or the new content, never a truncated file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, perm)
}

// WriteFrom streams r into path atomically and returns the number of bytes
// written. The temporary file lives in the destination directory so the
// final rename never crosses filesystems.
func WriteFrom(path string, r io.Reader, perm os.FileMode) (n int64, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	pf, err := renameio.TempFile(dir, path)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer pf.Cleanup()

	n, err = io.Copy(pf, r)
	if err != nil {
		return n, err
	}
	if err := pf.Chmod(perm); err != nil {
		return n, err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// Exists reports whether path exists. Errors other than "not exist" are
// returned to the caller.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
