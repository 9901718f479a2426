// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Install extracts the archive into a staging directory next to dst and
// moves the result into place once every entry has been written. A failed
// extraction leaves dst untouched.
func Install(r io.ReaderAt, size int64, dst string) (err error) {
	dst, err = filepath.Abs(dst)
	if err != nil {
		return err
	}
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	stage, err := os.MkdirTemp(parent, "."+filepath.Base(dst)+".stage-")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(stage); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	if err := Extract(r, size, stage); err != nil {
		return err
	}
	return MoveTree(stage, dst)
}

// InstallFile is Install for an archive stored on disk.
func InstallFile(archivePath, dst string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return Install(f, st.Size(), dst)
}

// MoveTree moves src into dst, merging into dst when it already exists.
// Files in dst that also exist in src are replaced.
func MoveTree(src, dst string) error {
	if src == "" || dst == "" || src == dst {
		return nil
	}
	if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
	}
	return mergeTree(src, dst)
}

func mergeTree(src, dst string) error {
	if st, err := os.Lstat(dst); err == nil && !st.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := mergeTree(from, to); err != nil {
				return err
			}
			continue
		}
		if err := os.RemoveAll(to); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return os.Remove(src)
}
